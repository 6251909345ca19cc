package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentic/internal/config"
	"github.com/rendis/agentic/internal/engine"
	"github.com/rendis/agentic/internal/model"
	"github.com/rendis/agentic/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, dir string, st store.RunStore) AgentRunner {
	t.Helper()

	loader, err := config.NewFileLoader(dir)
	require.NoError(t, err)

	m := model.NewMockModel("test")
	m.AddResponse("echo: hello", "hi there")

	e, err := engine.New(engine.Config{
		Model:  m,
		Loader: loader,
		Store:  st,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func writeAgentConfig(t *testing.T, dir string) {
	t.Helper()
	agentJSON := `{
		"label": "nightly",
		"initial_state_key": "work",
		"states": {
			"work": {"actions": [{"llm": {"user_prompt": "echo: {input}"}}]}
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.json"), []byte(agentJSON), 0o644))
}

func TestScheduler_RunsDueSchedule(t *testing.T) {
	dir := t.TempDir()
	writeAgentConfig(t, dir)

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	ctx := context.Background()
	require.NoError(t, st.CreateSchedule(ctx, &store.Schedule{
		ID:             "sched-1",
		ConfigFile:     "agent.json",
		CronExpression: "*/5 * * * *",
		Input:          "hello",
		Enabled:        true,
	}))

	before := time.Now().UTC()
	s.tick(ctx)

	sched, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, "completed", sched.LastRunStatus)
	assert.True(t, sched.NextRunAt.After(before))
}

func TestScheduler_SkipsScheduleNotYetDue(t *testing.T) {
	dir := t.TempDir()
	writeAgentConfig(t, dir)

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.CreateSchedule(ctx, &store.Schedule{
		ID:             "sched-future",
		ConfigFile:     "agent.json",
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      &future,
	}))

	s.tick(ctx)

	sched, err := st.GetSchedule(ctx, "sched-future")
	require.NoError(t, err)
	assert.Nil(t, sched.LastRunAt)
	assert.Empty(t, sched.LastRunStatus)
}

func TestScheduler_SkipsDisabledSchedule(t *testing.T) {
	dir := t.TempDir()
	writeAgentConfig(t, dir)

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	ctx := context.Background()
	require.NoError(t, st.CreateSchedule(ctx, &store.Schedule{
		ID:             "sched-off",
		ConfigFile:     "agent.json",
		CronExpression: "* * * * *",
		Enabled:        false,
	}))

	s.tick(ctx)

	sched, err := st.GetSchedule(ctx, "sched-off")
	require.NoError(t, err)
	assert.Nil(t, sched.LastRunAt)
}

func TestScheduler_RecordsFailedRun(t *testing.T) {
	dir := t.TempDir()

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	ctx := context.Background()
	require.NoError(t, st.CreateSchedule(ctx, &store.Schedule{
		ID:             "sched-broken",
		ConfigFile:     "missing.json",
		CronExpression: "*/10 * * * *",
		Enabled:        true,
	}))

	s.tick(ctx)

	sched, err := st.GetSchedule(ctx, "sched-broken")
	require.NoError(t, err)
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, "failed", sched.LastRunStatus)
}

func TestScheduler_RecoverMissed(t *testing.T) {
	dir := t.TempDir()
	writeAgentConfig(t, dir)

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	ctx := context.Background()
	missed := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.CreateSchedule(ctx, &store.Schedule{
		ID:             "sched-missed",
		ConfigFile:     "agent.json",
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      &missed,
	}))

	require.NoError(t, s.RecoverMissed(ctx))

	sched, err := st.GetSchedule(ctx, "sched-missed")
	require.NoError(t, err)
	assert.Equal(t, "missed", sched.LastRunStatus)
	assert.Nil(t, sched.LastRunAt, "recovery must not execute the backlog")
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))
}

func TestScheduler_CalculateNextRun(t *testing.T) {
	s := NewScheduler(store.NewMemoryStore(), nil, testLogger())

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("30 12 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron expr", from)
	require.Error(t, err)
}

func TestScheduler_StartAndStop(t *testing.T) {
	dir := t.TempDir()
	writeAgentConfig(t, dir)

	st := store.NewMemoryStore()
	s := NewScheduler(st, newTestRunner(t, dir, st), testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start must be rejected")

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "stop is idempotent")
}
