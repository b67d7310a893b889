// Package oplog adapts the credits OperationLogger onto zap.
package oplog

import (
	"context"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"go.uber.org/zap"
)

// Logger writes credits operation records as structured zap entries.
type Logger struct {
	logger *zap.Logger
}

// New wires a Logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation implements credits.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Int64("user_id", entry.UserID),
		zap.Int("amount", entry.Amount),
		zap.String("status", entry.Status),
	}
	if entry.Reference.Kind != "" {
		fields = append(fields,
			zap.String("reference_type", string(entry.Reference.Kind)),
			zap.String("reference_id", entry.Reference.ID),
		)
	}
	if entry.Note != "" {
		fields = append(fields, zap.String("note", entry.Note))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("credits operation failed", fields...)
		return
	}
	if entry.Note != "" {
		operationLogger.logger.Warn("credits operation", fields...)
		return
	}
	operationLogger.logger.Info("credits operation", fields...)
}
