package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/gatekeeper/internal/domain"
	"github.com/spec-kit/gatekeeper/internal/events"
)

func TestAuditService_LogsEveryEventType(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher()
	NewAuditService(dispatcher, zap.New(core)).RegisterHandlers()
	ctx := context.Background()

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventIdentityRegistered, "u-1",
		events.Actor{ID: "u-1", Role: domain.RoleUser},
		events.IdentityRegisteredPayload{Email: "a@x.com", Role: domain.RoleUser})))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventAdmissionDenied, "", events.Actor{},
		events.AdmissionDeniedPayload{Class: "guest", Reason: "rate_limited", IP: "1.2.3.4"})))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "identity_registered", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, "u-1", entries[0].ContextMap()["actor_id"])

	assert.Equal(t, "admission_denied", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	_, hasActor := entries[1].ContextMap()["actor_id"]
	assert.False(t, hasActor)
}

func TestAuditService_NilDispatcher(t *testing.T) {
	assert.NotPanics(t, func() { NewAuditService(nil, nil).RegisterHandlers() })
}
