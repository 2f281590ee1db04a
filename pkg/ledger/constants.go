package ledger

const (
	operationDebit          = "debit"
	operationCredit         = "credit"
	operationCatalogLookup  = "catalog_lookup"
	operationRecordPurchase = "record_purchase"
	operationFailPurchase   = "fail_purchase"
	operationSetUnlimited   = "set_unlimited"

	operationStatusOK                  = "ok"
	operationStatusError               = "error"
	operationStatusAlreadyApplied      = "already_applied"
	operationStatusInsufficientBalance = "insufficient_balance"
	operationStatusConfigurationGap    = "configuration_gap"

	errorOperationService = "service"
	errorSubjectCatalog   = "catalog"
	errorSubjectCredit    = "credit"
	errorSubjectPurchase  = "purchase"
	errorCodeOwner        = "owner_mismatch"
	errorCodeReference    = "reference_conflict"
	errorCodeMissing      = "missing"
	errorCodeInactive     = "inactive"

	metadataKeyFeatureKey       = "feature_key"
	metadataKeyCost             = "cost"
	metadataKeyUnlimited        = "unlimited"
	metadataKeyPaymentReference = "payment_reference"

	generatedReferenceDelimiter = ":"

	// DefaultHistoryLimit is used when a caller asks for a non-positive page.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 100
)
