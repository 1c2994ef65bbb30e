package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	OrderID        OrderID
	CampaignID     CampaignID
	Amount         AmountDT
	IdempotencyKey IdempotencyKey
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithSupportMessageLimit caps the length of a pledge support message in runes.
func WithSupportMessageLimit(limit int) ServiceOption {
	return func(service *Service) {
		if limit > 0 {
			service.supportMessageLimit = limit
		}
	}
}
