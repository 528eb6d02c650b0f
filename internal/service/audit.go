package service

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// AuditLogger records every automatic or corrective write.
type AuditLogger interface {
	// Record appends e. Failures are logged and swallowed.
	Record(ctx context.Context, e model.AuditEntry)
	// Recent returns newest entries first; nil userID lists everyone.
	Recent(ctx context.Context, userID *uuid.UUID, limit int) ([]model.AuditEntry, error)
}

type AuditLoggerImpl struct {
	repo repository.AuditRepository
	log  *zap.Logger
}

// NewAuditLogger constructs an AuditLogger mirrored to log.
func NewAuditLogger(repo repository.AuditRepository, log *zap.Logger) *AuditLoggerImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLoggerImpl{repo: repo, log: log.Named("audit")}
}

func (a *AuditLoggerImpl) Record(ctx context.Context, e model.AuditEntry) {
	fields := []zap.Field{
		zap.String("action", e.Action),
		zap.String("source", e.Source),
	}
	if e.UserID != nil {
		fields = append(fields, zap.String("user_id", e.UserID.String()))
	}
	if e.ContextID != "" {
		fields = append(fields, zap.String("context_id", e.ContextID))
	}
	if e.Field != "" {
		fields = append(fields, zap.String("field", e.Field))
	}
	if e.Before != nil {
		fields = append(fields, zap.Int64("before", *e.Before))
	}
	if e.After != nil {
		fields = append(fields, zap.Int64("after", *e.After))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}

	if e.Action == model.AuditDriftUnresolved {
		a.log.Error("integrity drift left unresolved", fields...)
	} else {
		a.log.Info("audit", fields...)
	}

	if err := a.repo.Append(ctx, &e); err != nil {
		a.log.Warn("audit append failed", append(fields, zap.Error(err))...)
	}
}

func (a *AuditLoggerImpl) Recent(ctx context.Context, userID *uuid.UUID, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return a.repo.ListRecent(ctx, userID, limit)
}

func int64p(v int64) *int64 { return &v }

func uuidp(v uuid.UUID) *uuid.UUID { return &v }
