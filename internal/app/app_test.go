package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/crossing"
	"github.com/Ramsey-B/fern/pkg/startup"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.DatabaseDriver = DriverMemory
	cfg.Port = 0
	cfg.StartupMaxAttempts = 1
	cfg.CrossingLockMode = LockModeLocal
	return cfg
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "driver", mutate: func(c *config.Config) { c.DatabaseDriver = "mysql" }},
		{name: "lock mode", mutate: func(c *config.Config) { c.CrossingLockMode = "zookeeper" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			_, err := New(cfg, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestApp_EndToEnd(t *testing.T) {
	a, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Stop(stopCtx))
	})

	for _, name := range []string{DependencyTracing, DependencyDatabase, DependencyEngine, DependencyServer} {
		assert.Equal(t, startup.StartupStatusStarted, a.startup.Status(name), name)
	}

	base := "http://" + a.echo.Listener.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	var last crossing.CrossingResult
	for _, user := range []string{"alice", "bob", "alice"} {
		body := fmt.Sprintf(`{"user_id":%q,"venue_id":"cafe","venue_name":"Cafe","latitude":1,"longitude":2}`, user)
		resp, err := client.Post(base+"/api/v1/visits", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		last = crossing.CrossingResult{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&last))
		resp.Body.Close()
	}

	require.Len(t, last.Crossings, 1)
	assert.Equal(t, 2, last.Crossings[0].Count)
	assert.False(t, last.Crossings[0].IsNew)

	resp, err := client.Get(base + "/api/v1/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/api/v1/graph/crossed-paths/alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
