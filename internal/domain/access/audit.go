package access

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const auditWriteTimeout = 3 * time.Second

// AccessLogger records verification attempts in logs_acces. Writes are
// best-effort: a failure is logged and never reaches the caller.
type AccessLogger struct {
	repo   AccessLogRepository
	logger zerolog.Logger
}

func NewAccessLogger(repo AccessLogRepository, logger zerolog.Logger) *AccessLogger {
	return &AccessLogger{repo: repo, logger: logger}
}

// Record writes one row. An empty dossierID is stored as NULL.
func (l *AccessLogger) Record(ctx context.Context, dossierID string, success bool, details string) {
	ev := l.logger.Info()
	if !success {
		ev = l.logger.Warn()
	}
	ev.Str("event", "access_attempt").
		Str("dossier_id", dossierID).
		Bool("success", success).
		Str("details", details).
		Msg("access attempt")

	// logs_acces.details is TEXT; Postgres refuses invalid UTF-8 and NUL bytes.
	details = strings.ReplaceAll(strings.ToValidUTF8(details, "\uFFFD"), "\x00", "")
	entry := &AccessLogEntry{Succes: success, Details: details}
	if dossierID != "" {
		entry.DossierID = &dossierID
	}

	// The row is written even if the client has gone away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := l.repo.Append(writeCtx, entry); err != nil {
		l.logger.Error().Err(err).Str("dossier_id", dossierID).Msg("writing access log failed")
	}
}
