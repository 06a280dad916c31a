package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"hybridauth/internal/domain/auth"
	"hybridauth/pkg/logger"
)

func observed() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return logger.Wrap(zap.New(core)), logs
}

func TestLogMailerHidesBodies(t *testing.T) {
	log, logs := observed()
	m := NewLogMailer(log, false)

	err := m.Send(context.Background(), auth.Message{
		To:      "ada@example.com",
		Subject: "Your data export",
		Body:    "secret-token",
		Attachments: []auth.Attachment{{
			Filename: "export.json.zst",
			Data:     make([]byte, 42),
		}},
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ada@example.com", fields["to"])
	assert.Equal(t, "export.json.zst", fields["attachment"])
	assert.EqualValues(t, 42, fields["attachment_bytes"])
	assert.NotContains(t, fields, "body")
}

func TestLogMailerWithBodies(t *testing.T) {
	log, logs := observed()
	m := NewLogMailer(log, true)

	require.NoError(t, m.Send(context.Background(), auth.Message{To: "bob@example.com", Body: "link"}))
	assert.Equal(t, "link", logs.All()[0].ContextMap()["body"])
}
