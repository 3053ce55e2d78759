package audit

import (
	"context"
	"time"

	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
)

// Logger writes structured audit entries.
type Logger struct {
	store storage.Store
	log   zerolog.Logger
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Store, log zerolog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// LogRequest records an API request to the audit log.
// Secret values must NEVER be passed here — only metadata.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	// Fire and forget: audit failures must not break the request flow.
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		l.log.Warn().Err(err).
			Str("operation", entry.Operation).
			Str("path", entry.Path).
			Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return l.store.QueryAuditLog(ctx, filter)
}
