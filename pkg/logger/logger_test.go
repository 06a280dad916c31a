package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "hybridauth/internal/core/context"
)

func TestWithContextAddsRequestAndPrincipal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := Wrap(zap.New(core))

	gid := uuid.New()
	ctx := appctx.WithRequest(context.Background(), &appctx.Request{TraceID: "t-1", RequestID: "r-1"})
	ctx = appctx.WithPrincipal(ctx, &appctx.Principal{CentralUserID: "c-1", GlobalID: gid, TenantID: "acme"})

	log.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t-1", fields["trace_id"])
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "c-1", fields["central_user_id"])
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, gid.String(), fields["global_id"])
}

func TestWithContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := Wrap(zap.New(core))

	log.WithContext(context.Background()).WithComponent("worker").Info("tick")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, map[string]any{"component": "worker"}, logs.All()[0].ContextMap())
}

func TestFromContextUsesBoundLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := WithLogger(context.Background(), Wrap(zap.New(core)))

	Info(ctx, "bound")

	assert.Equal(t, 1, logs.Len())
}
