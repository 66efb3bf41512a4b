// Package notification turns wallet domain events into owner notifications
// and audit records. It subscribes to the event stream and never feeds back
// into the ledger.
package notification

import (
	"context"

	"payvault/internal/events"

	"go.uber.org/zap"
)

// Dispatcher delivers a notification to an owner through an external channel
// (email, push, SMS).
type Dispatcher interface {
	Notify(ctx context.Context, ownerID uint, subject, body string) error
}

// AuditLogger records an immutable audit line for a wallet event.
type AuditLogger interface {
	Record(ctx context.Context, event *events.Event) error
}

// Service consumes wallet events and fans them out.
type Service struct {
	dispatcher Dispatcher
	audit      AuditLogger
	logger     *zap.Logger
}

func NewService(dispatcher Dispatcher, audit AuditLogger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dispatcher: dispatcher, audit: audit, logger: logger}
}

// Handle processes a single event. Errors are logged, never propagated:
// a failed notification must not disturb the event stream.
func (s *Service) Handle(event *events.Event) {
	ctx := context.Background()

	if s.audit != nil {
		if err := s.audit.Record(ctx, event); err != nil {
			s.logger.Error("audit record failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}

	subject, body, ownerID, ok := s.compose(event)
	if !ok || s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Notify(ctx, ownerID, subject, body); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.Uint("owner_id", ownerID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

func (s *Service) compose(event *events.Event) (subject, body string, ownerID uint, ok bool) {
	var data events.WalletEventData
	if err := event.DecodeData(&data); err != nil || data.OwnerID == 0 {
		return "", "", 0, false
	}

	switch event.Type {
	case events.TypeDepositCredited:
		return "Deposit received",
			"Your deposit of " + data.Delta.String() + " has been credited.",
			data.OwnerID, true
	case events.TypeWithdrawalSettled:
		return "Withdrawal completed",
			"Your withdrawal of " + data.Delta.Neg().String() + " has been paid out.",
			data.OwnerID, true
	case events.TypeWithdrawalCancelled:
		return "Withdrawal cancelled",
			"Your withdrawal was cancelled and the funds are available again.",
			data.OwnerID, true
	case events.TypeWalletSuspended:
		return "Wallet suspended",
			"Your wallet has been suspended. Contact support for details.",
			data.OwnerID, true
	case events.TypeWalletActivated:
		return "Wallet reactivated",
			"Your wallet is active again.",
			data.OwnerID, true
	default:
		return "", "", 0, false
	}
}

// LogDispatcher writes notifications to the structured log. Used when no
// real delivery channel is configured.
type LogDispatcher struct {
	Logger *zap.Logger
}

func (d LogDispatcher) Notify(_ context.Context, ownerID uint, subject, body string) error {
	d.Logger.Info("notification",
		zap.Uint("owner_id", ownerID),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// LogAuditLogger writes audit records to the structured log.
type LogAuditLogger struct {
	Logger *zap.Logger
}

func (a LogAuditLogger) Record(_ context.Context, event *events.Event) error {
	a.Logger.Info("audit",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}
