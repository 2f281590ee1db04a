package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls tokenledger.v1.LedgerService over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection. Calls always request the json codec.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, client.conn, methodGetBalance, request)
}

func (client *Client) CheckAffordability(ctx context.Context, request *AffordabilityRequest) (*AffordabilityResponse, error) {
	return invoke[AffordabilityResponse](ctx, client.conn, methodCheckAffordability, request)
}

func (client *Client) Debit(ctx context.Context, request *DebitRequest) (*DebitResponse, error) {
	return invoke[DebitResponse](ctx, client.conn, methodDebit, request)
}

func (client *Client) Credit(ctx context.Context, request *CreditRequest) (*CreditResponse, error) {
	return invoke[CreditResponse](ctx, client.conn, methodCredit, request)
}

func (client *Client) ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, client.conn, methodListTransactions, request)
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, method string, request any) (*Response, error) {
	response := new(Response)
	if err := conn.Invoke(ctx, fullMethod(method), request, response, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return response, nil
}
