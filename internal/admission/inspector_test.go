package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

func TestHeuristicInspector_Classify(t *testing.T) {
	insp := NewHeuristicInspector(WithPerIPRate(0, 0))
	ctx := context.Background()

	tests := []struct {
		name       string
		in         Inbound
		wantBot    bool
		wantShield bool
	}{
		{name: "browser", in: Inbound{IP: "10.0.0.1", UserAgent: browserUA, Path: "/api/users"}},
		{name: "go client is not a bot", in: Inbound{UserAgent: "Go-http-client/1.1", Path: "/"}},
		{name: "empty agent", in: Inbound{Path: "/"}, wantBot: true},
		{name: "curl", in: Inbound{UserAgent: "curl/8.4.0", Path: "/"}, wantBot: true},
		{name: "crawler", in: Inbound{UserAgent: "Googlebot/2.1", Path: "/"}, wantBot: true},
		{name: "path traversal", in: Inbound{UserAgent: browserUA, Path: "/api/../etc/passwd"}, wantShield: true},
		{name: "encoded script", in: Inbound{UserAgent: browserUA, Path: "/api/users", Query: "q=%3Cscript%3Ealert(1)"}, wantShield: true},
		{name: "sql injection", in: Inbound{UserAgent: browserUA, Path: "/api/users", Query: "id=1%20UNION%20SELECT%20*"}, wantShield: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := insp.Classify(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBot, v.SuspectedBot)
			assert.Equal(t, tt.wantShield, v.ShieldTriggered)
		})
	}
}

func TestHeuristicInspector_AllowedAgents(t *testing.T) {
	insp := NewHeuristicInspector(WithAllowedAgents(" UptimeBot ", ""))

	v, err := insp.Classify(context.Background(), Inbound{UserAgent: "uptimebot/1.0", Path: "/"})
	require.NoError(t, err)
	assert.False(t, v.SuspectedBot)
}

func TestHeuristicInspector_ClientBurstTripsShield(t *testing.T) {
	now := t0
	insp := NewHeuristicInspector(
		WithPerIPRate(1, 3),
		WithInspectorClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	in := Inbound{IP: "10.0.0.9", UserAgent: browserUA, Path: "/"}

	for i := 0; i < 3; i++ {
		v, err := insp.Classify(ctx, in)
		require.NoError(t, err)
		require.False(t, v.ShieldTriggered)
	}

	v, err := insp.Classify(ctx, in)
	require.NoError(t, err)
	assert.True(t, v.ShieldTriggered)
	assert.Equal(t, "client burst", v.Detail)

	// other clients have their own bucket
	v, err = insp.Classify(ctx, Inbound{IP: "10.0.0.10", UserAgent: browserUA, Path: "/"})
	require.NoError(t, err)
	assert.False(t, v.ShieldTriggered)

	now = now.Add(time.Second)
	v, err = insp.Classify(ctx, in)
	require.NoError(t, err)
	assert.False(t, v.ShieldTriggered)
}

func TestHeuristicInspector_CleanupDropsIdleClients(t *testing.T) {
	now := t0
	insp := NewHeuristicInspector(
		WithIdleTTL(time.Minute),
		WithInspectorClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := insp.Classify(ctx, Inbound{IP: "a", UserAgent: browserUA, Path: "/"})
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = insp.Classify(ctx, Inbound{IP: "b", UserAgent: browserUA, Path: "/"})
	require.NoError(t, err)
	require.Equal(t, 2, insp.Tracked())

	now = now.Add(45 * time.Second)
	insp.Cleanup()
	assert.Equal(t, 1, insp.Tracked())
}
