package grpcserver

// Wire messages of tokenledger.v1.LedgerService, encoded with the json codec.

type BalanceRequest struct {
	AccountID string `json:"account_id"`
}

type BalanceResponse struct {
	Balance           int64 `json:"balance"`
	LifetimeEarned    int64 `json:"lifetime_earned"`
	LifetimePurchased int64 `json:"lifetime_purchased"`
	LifetimeSpent     int64 `json:"lifetime_spent"`
	Unlimited         bool  `json:"unlimited"`
}

type AffordabilityRequest struct {
	AccountID  string `json:"account_id"`
	FeatureKey string `json:"feature_key"`
}

type AffordabilityResponse struct {
	CanAfford bool  `json:"can_afford"`
	Required  int64 `json:"required"`
	Balance   int64 `json:"balance"`
	Unlimited bool  `json:"unlimited"`
}

type DebitRequest struct {
	AccountID    string `json:"account_id"`
	FeatureKey   string `json:"feature_key"`
	MetadataJSON string `json:"metadata_json,omitempty"`
}

type DebitResponse struct {
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
	Unlimited     bool   `json:"unlimited"`
}

type CreditRequest struct {
	AccountID        string `json:"account_id"`
	Amount           int64  `json:"amount"`
	Type             string `json:"type"`
	PaymentReference string `json:"payment_reference,omitempty"`
	MetadataJSON     string `json:"metadata_json,omitempty"`
}

type CreditResponse struct {
	NewBalance     int64  `json:"new_balance"`
	TransactionID  string `json:"transaction_id"`
	AlreadyApplied bool   `json:"already_applied"`
}

type ListTransactionsRequest struct {
	AccountID string `json:"account_id"`
	Limit     int32  `json:"limit"`
}

type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type Transaction struct {
	TransactionID    string `json:"transaction_id"`
	AccountID        string `json:"account_id"`
	Type             string `json:"type"`
	Amount           int64  `json:"amount"`
	PaymentReference string `json:"payment_reference,omitempty"`
	MetadataJSON     string `json:"metadata_json"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
}
