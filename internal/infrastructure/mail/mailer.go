// Package mail provides the log-only mailer. Messages are written to the
// structured log instead of being delivered.
package mail

import (
	"context"

	"hybridauth/internal/domain/auth"
	"hybridauth/pkg/logger"
)

// LogMailer implements auth.Mailer.
type LogMailer struct {
	log       *logger.Logger
	logBodies bool
}

// NewLogMailer creates a mailer. Bodies carry one-time tokens and are only
// logged when logBodies is set.
func NewLogMailer(log *logger.Logger, logBodies bool) *LogMailer {
	return &LogMailer{log: log.WithComponent("mailer"), logBodies: logBodies}
}

func (m *LogMailer) Send(ctx context.Context, msg auth.Message) error {
	kv := []any{"to", msg.To, "subject", msg.Subject}
	if m.logBodies {
		kv = append(kv, "body", msg.Body)
	}
	for _, a := range msg.Attachments {
		kv = append(kv, "attachment", a.Filename, "attachment_bytes", len(a.Data))
	}
	m.log.WithContext(ctx).Infow("mail sent", kv...)
	return nil
}

var _ auth.Mailer = (*LogMailer)(nil)
