package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and its outcome.
type OperationLog struct {
	Operation        string
	AccountID        AccountID
	FeatureKey       FeatureKey
	PackageID        PackageID
	PaymentReference PaymentReference
	TransactionType  TransactionType
	Amount           int64
	Metadata         MetadataJSON
	Status           string
	Error            error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// Passing several loggers fans each entry out to all of them.
func WithOperationLogger(loggers ...OperationLogger) ServiceOption {
	return func(service *Service) {
		active := make(fanOutLogger, 0, len(loggers))
		for _, logger := range loggers {
			if logger != nil {
				active = append(active, logger)
			}
		}
		switch len(active) {
		case 0:
			service.logger = nil
		case 1:
			service.logger = active[0]
		default:
			service.logger = active
		}
	}
}

// WithIDGenerator replaces the transaction id source.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

type fanOutLogger []OperationLogger

func (loggers fanOutLogger) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}
