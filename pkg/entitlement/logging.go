package entitlement

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing entitlement operation.
type OperationLog struct {
	Operation   string
	AccountID   string
	Minutes     int64
	Source      FundingSource
	AmountCents int64
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPerMinuteRateCents overrides the wallet rate charged per minute of audio.
func WithPerMinuteRateCents(rateCents int64) ServiceOption {
	return func(service *Service) {
		if rateCents > 0 {
			service.perMinuteRateCents = rateCents
		}
	}
}
