// Package ledgerlog adapts ledger operation callbacks to zap.
package ledgerlog

import (
	"context"

	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes one structured entry per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// New returns an OperationLogger backed by the provided zap logger.
func New(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendIfSet(fields, "user_id", entry.UserID.String())
	fields = appendIfSet(fields, "order_id", entry.OrderID.String())
	fields = appendIfSet(fields, "campaign_id", entry.CampaignID.String())
	fields = appendIfSet(fields, "idempotency_key", entry.IdempotencyKey.String())
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_dt", entry.Amount.Int64()))
	}

	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		level = zapcore.WarnLevel
	}
	if checked := operationLogger.logger.Check(level, "ledger operation"); checked != nil {
		checked.Write(fields...)
	}
}

func appendIfSet(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}
