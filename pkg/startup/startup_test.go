package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDependency struct {
	name      string
	dependsOn []string
	failures  int
	log       *[]string
}

func (d *fakeDependency) GetName() string     { return d.name }
func (d *fakeDependency) DependsOn() []string { return d.dependsOn }

func (d *fakeDependency) Start(ctx context.Context) error {
	if d.failures > 0 {
		d.failures--
		return errors.New("not ready")
	}
	*d.log = append(*d.log, "start:"+d.name)
	return nil
}

func (d *fakeDependency) Stop(ctx context.Context) error {
	*d.log = append(*d.log, "stop:"+d.name)
	return nil
}

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.backoffUnit = time.Millisecond
	return s
}

func TestStartup_StartsInDependencyOrder(t *testing.T) {
	var log []string
	s := newTestStartup(1)
	s.AddDependency(&fakeDependency{name: "http", dependsOn: []string{"engine"}, log: &log})
	s.AddDependency(&fakeDependency{name: "engine", dependsOn: []string{"database"}, log: &log})
	s.AddDependency(&fakeDependency{name: "database", log: &log})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:database", "start:engine", "start:http"}, log)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))

	log = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:http", "stop:engine", "stop:database"}, log)
	assert.Equal(t, StartupStatusStopped, s.Status("database"))
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	var log []string
	s := newTestStartup(3)
	s.AddDependency(&fakeDependency{name: "database", failures: 2, log: &log})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:database"}, log)
}

func TestStartup_GivesUp(t *testing.T) {
	var log []string
	s := newTestStartup(2)
	s.AddDependency(&fakeDependency{name: "database", failures: 5, log: &log})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("database"))
}

func TestStartup_UnknownDependency(t *testing.T) {
	var log []string
	s := newTestStartup(1)
	s.AddDependency(&fakeDependency{name: "http", dependsOn: []string{"missing"}, log: &log})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown startup dependency 'missing'")
}
