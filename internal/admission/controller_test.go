package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) Classify(ctx context.Context, in Inbound) (Verdict, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(Verdict), args.Error(1)
}

type countingRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *countingRecorder) RecordAdmission(class, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[class+"/"+outcome]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[key]
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore(DefaultPolicy())
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return NewController(store, opts...), store
}

func TestController_AdmitRecordsOutcome(t *testing.T) {
	rec := &countingRecorder{}
	ctrl, _ := newTestController(t, WithRecorder(rec))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := ctrl.Admit(ctx, ClassGuest, t0)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, rec.count("guest/allowed"))
	assert.Equal(t, 1, rec.count("guest/rate_limited"))
}

func TestController_InspectorDenialLeavesWindowUntouched(t *testing.T) {
	insp := &mockInspector{}
	bot := Inbound{IP: "1.2.3.4", UserAgent: "curl/8", Path: "/api/users"}
	attack := Inbound{IP: "1.2.3.4", UserAgent: browserUA, Path: "/api/../etc/passwd"}
	insp.On("Classify", mock.Anything, bot).Return(Verdict{SuspectedBot: true, Detail: "user-agent"}, nil)
	insp.On("Classify", mock.Anything, attack).Return(Verdict{ShieldTriggered: true}, nil)

	core, logs := observer.New(zap.WarnLevel)
	rec := &countingRecorder{}
	ctrl, store := newTestController(t, WithInspector(insp), WithRecorder(rec), WithLogger(zap.New(core)))
	ctx := context.Background()

	dec, err := ctrl.AdmitRequest(ctx, ClassGuest, bot)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonBotSuspected, dec.Reason)

	dec, err = ctrl.AdmitRequest(ctx, ClassGuest, attack)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonShieldTriggered, dec.Reason)

	assert.Equal(t, 0, store.Snapshot(t0)[0].Count)
	assert.Equal(t, 1, rec.count("guest/bot_suspected"))
	assert.Equal(t, 1, rec.count("guest/shield_triggered"))
	assert.Equal(t, 2, logs.FilterMessage("admission denied").Len())
	insp.AssertExpectations(t)
}

func TestController_AdmitRequestCountsCleanTraffic(t *testing.T) {
	insp := &mockInspector{}
	insp.On("Classify", mock.Anything, mock.Anything).Return(Verdict{}, nil)

	core, logs := observer.New(zap.WarnLevel)
	ctrl, _ := newTestController(t, WithInspector(insp), WithLogger(zap.New(core)))
	ctx := context.Background()
	in := Inbound{IP: "1.2.3.4", UserAgent: browserUA, Path: "/api/users/me"}

	for i := 0; i < 10; i++ {
		dec, err := ctrl.AdmitRequest(ctx, ClassUser, in)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
		assert.Equal(t, ClassUser, dec.Class)
	}

	dec, err := ctrl.AdmitRequest(ctx, ClassUser, in)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonRateLimited, dec.Reason)

	entries := logs.FilterMessage("admission denied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "rate_limited", entries[0].ContextMap()["reason"])
}

func TestController_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	insp := InspectorFunc(func(context.Context, Inbound) (Verdict, error) { return Verdict{}, boom })
	ctrl, _ := newTestController(t, WithInspector(insp))

	_, err := ctrl.AdmitRequest(context.Background(), ClassGuest, Inbound{})
	assert.ErrorIs(t, err, boom)

	ctrl, _ = newTestController(t)
	_, err = ctrl.Admit(context.Background(), Class("vip"), t0)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestController_DenialListener(t *testing.T) {
	var got []Reason
	listener := func(_ context.Context, dec Decision, in Inbound) {
		got = append(got, dec.Reason)
		assert.Equal(t, "9.9.9.9", in.IP)
	}
	insp := InspectorFunc(func(_ context.Context, in Inbound) (Verdict, error) {
		return Verdict{SuspectedBot: in.UserAgent == ""}, nil
	})
	ctrl, _ := newTestController(t, WithInspector(insp), WithDenialListener(listener))
	ctx := context.Background()

	_, err := ctrl.AdmitRequest(ctx, ClassGuest, Inbound{IP: "9.9.9.9"})
	require.NoError(t, err)

	human := Inbound{IP: "9.9.9.9", UserAgent: browserUA}
	for i := 0; i < 6; i++ {
		_, err := ctrl.AdmitRequest(ctx, ClassGuest, human)
		require.NoError(t, err)
	}

	assert.Equal(t, []Reason{ReasonBotSuspected, ReasonRateLimited}, got)
}
