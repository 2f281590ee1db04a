package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "tokenledger.v1.LedgerService"

	methodGetBalance         = "GetBalance"
	methodCheckAffordability = "CheckAffordability"
	methodDebit              = "Debit"
	methodCredit             = "Credit"
	methodListTransactions   = "ListTransactions"

	errorInsufficientBalance  = "insufficient_balance"
	errorConfigurationGap     = "configuration_gap"
	errorStoreUnavailable     = "store_unavailable"
	errorReferenceConflict    = "payment_reference_conflict"
	errorInvalidAccountID     = "invalid_account_id"
	errorInvalidFeatureKey    = "invalid_feature_key"
	errorInvalidReference     = "invalid_payment_reference"
	errorInvalidAmount        = "invalid_amount"
	errorInvalidType          = "invalid_transaction_type"
	errorInvalidMetadata      = "invalid_metadata_json"
	errorInvalidListLimit     = "invalid_list_limit"
	errorUnsupportedOperation = "unsupported_transaction_type"
)

// LedgerService is the server API of tokenledger.v1.LedgerService.
type LedgerService interface {
	GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error)
	CheckAffordability(ctx context.Context, request *AffordabilityRequest) (*AffordabilityResponse, error)
	Debit(ctx context.Context, request *DebitRequest) (*DebitResponse, error)
	Credit(ctx context.Context, request *CreditRequest) (*CreditResponse, error)
	ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error)
}

// LedgerServer exposes a *ledger.Service to trusted internal callers.
type LedgerServer struct {
	ledgerService *ledger.Service
}

// NewLedgerServer constructs a gRPC server for the ledger service.
func NewLedgerServer(ledgerService *ledger.Service) *LedgerServer {
	return &LedgerServer{ledgerService: ledgerService}
}

// Register attaches the service to a grpc.Server.
func Register(server grpc.ServiceRegistrar, service LedgerService) {
	server.RegisterService(&serviceDesc, service)
}

func (server *LedgerServer) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := server.ledgerService.BalanceInfo(ctx, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &BalanceResponse{
		Balance:           balance.Balance.Int64(),
		LifetimeEarned:    balance.LifetimeEarned.Int64(),
		LifetimePurchased: balance.LifetimePurchased.Int64(),
		LifetimeSpent:     balance.LifetimeSpent.Int64(),
		Unlimited:         balance.Unlimited,
	}, nil
}

func (server *LedgerServer) CheckAffordability(ctx context.Context, request *AffordabilityRequest) (*AffordabilityResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	featureKey, err := ledger.NewFeatureKey(request.FeatureKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	affordability, operationError := server.ledgerService.CheckAffordability(ctx, accountID, featureKey)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &AffordabilityResponse{
		CanAfford: affordability.CanAfford,
		Required:  affordability.Required.Int64(),
		Balance:   affordability.Balance.Int64(),
		Unlimited: affordability.IsUnlimited,
	}, nil
}

func (server *LedgerServer) Debit(ctx context.Context, request *DebitRequest) (*DebitResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	featureKey, err := ledger.NewFeatureKey(request.FeatureKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := server.ledgerService.Debit(ctx, accountID, featureKey, metadata)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &DebitResponse{
		NewBalance:    result.NewBalance.Int64(),
		TransactionID: result.TransactionID.String(),
		Unlimited:     result.Unlimited,
	}, nil
}

func (server *LedgerServer) Credit(ctx context.Context, request *CreditRequest) (*CreditResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveTokenAmount(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transactionType, err := ledger.ParseTransactionType(request.Type)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var reference ledger.PaymentReference
	if request.PaymentReference != "" {
		reference, err = ledger.NewPaymentReference(request.PaymentReference)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := server.ledgerService.Credit(ctx, ledger.CreditRequest{
		AccountID:        accountID,
		Amount:           amount,
		Type:             transactionType,
		PaymentReference: reference,
		Metadata:         metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &CreditResponse{
		NewBalance:     result.NewBalance.Int64(),
		TransactionID:  result.TransactionID.String(),
		AlreadyApplied: result.AlreadyApplied,
	}, nil
}

func (server *LedgerServer) ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if request.Limit > ledger.MaxHistoryLimit {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	transactions, operationError := server.ledgerService.TransactionHistory(ctx, accountID, int(request.Limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &ListTransactionsResponse{Transactions: make([]Transaction, 0, len(transactions))}
	for _, transaction := range transactions {
		response.Transactions = append(response.Transactions, Transaction{
			TransactionID:    transaction.ID.String(),
			AccountID:        transaction.AccountID.String(),
			Type:             transaction.Type.String(),
			Amount:           transaction.Amount.Int64(),
			PaymentReference: transaction.PaymentReference.String(),
			MetadataJSON:     transaction.Metadata.String(),
			CreatedUnixUTC:   transaction.CreatedUnixUTC,
		})
	}
	return response, nil
}

func mapToGRPCError(source error) error {
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(source, &insufficient) {
		return status.Error(codes.FailedPrecondition, fmt.Sprintf("%s: need %d more tokens, have %d", errorInsufficientBalance, insufficient.Shortfall(), insufficient.Balance.Int64()))
	}
	if errors.Is(source, ledger.ErrInsufficientBalance) {
		return status.Error(codes.FailedPrecondition, errorInsufficientBalance)
	}
	if errors.Is(source, ledger.ErrInvalidAccountID) {
		return status.Error(codes.InvalidArgument, errorInvalidAccountID)
	}
	if errors.Is(source, ledger.ErrInvalidFeatureKey) {
		return status.Error(codes.InvalidArgument, errorInvalidFeatureKey)
	}
	if errors.Is(source, ledger.ErrInvalidPaymentReference) {
		return status.Error(codes.InvalidArgument, errorInvalidReference)
	}
	if errors.Is(source, ledger.ErrInvalidTokenAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidTransactionType) {
		return status.Error(codes.InvalidArgument, errorInvalidType)
	}
	if errors.Is(source, ledger.ErrUnsupportedTransactionType) {
		return status.Error(codes.InvalidArgument, errorUnsupportedOperation)
	}
	if errors.Is(source, ledger.ErrInvalidMetadataJSON) {
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	}
	if errors.Is(source, ledger.ErrPaymentReferenceConflict) {
		return status.Error(codes.AlreadyExists, errorReferenceConflict)
	}
	if errors.Is(source, ledger.ErrConfigurationGap) {
		return status.Error(codes.NotFound, errorConfigurationGap)
	}
	if errors.Is(source, ledger.ErrStoreUnavailable) {
		return status.Error(codes.Unavailable, errorStoreUnavailable)
	}
	return status.Error(codes.Internal, source.Error())
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, LedgerService.GetBalance)},
		{MethodName: methodCheckAffordability, Handler: unaryHandler(methodCheckAffordability, LedgerService.CheckAffordability)},
		{MethodName: methodDebit, Handler: unaryHandler(methodDebit, LedgerService.Debit)},
		{MethodName: methodCredit, Handler: unaryHandler(methodCredit, LedgerService.Credit)},
		{MethodName: methodListTransactions, Handler: unaryHandler(methodListTransactions, LedgerService.ListTransactions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokenledger/v1/ledger.json",
}

// unaryHandler adapts a typed method to the generic grpc.MethodDesc handler shape.
func unaryHandler[Request any, Response any](method string, call func(LedgerService, context.Context, *Request) (*Response, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		service := srv.(LedgerService)
		if interceptor == nil {
			return call(service, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(service, ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
