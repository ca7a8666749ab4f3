package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/scheduler"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int32
	block    chan struct{}
	lastSkill, lastMessage string
}

func (r *fakeRunner) RunSkill(ctx context.Context, skillName, sessionID, message string) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	r.lastSkill, r.lastMessage = skillName, message
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return "ok output", nil
}

func TestScheduler_RunOnceFiresConfiguredJob(t *testing.T) {
	runner := &fakeRunner{}
	cfg := config.SchedulerConfig{
		Jobs: []config.ScheduledJobConfig{
			{Name: "daily-digest", SkillName: "digest", Message: "send it", Cron: "0 9 * * *", Enabled: true},
		},
	}
	s, err := scheduler.New(cfg, runner)
	require.NoError(t, err)

	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
	assert.Equal(t, "digest", runner.lastSkill)
	assert.Equal(t, "send it", runner.lastMessage)
}

func TestScheduler_DisabledJobIsNotScheduled(t *testing.T) {
	runner := &fakeRunner{}
	cfg := config.SchedulerConfig{
		Jobs: []config.ScheduledJobConfig{
			{Name: "off", SkillName: "x", Message: "y", Cron: "0 9 * * *", Enabled: false},
		},
	}
	s, err := scheduler.New(cfg, runner)
	require.NoError(t, err)
	assert.Empty(t, s.Statuses())
	s.RunOnce(context.Background())
	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.calls))
}

func TestScheduler_InvalidCronRejectedAtConstruction(t *testing.T) {
	cfg := config.SchedulerConfig{
		Jobs: []config.ScheduledJobConfig{
			{Name: "bad", SkillName: "x", Message: "y", Cron: "not a cron expr", Enabled: true},
		},
	}
	_, err := scheduler.New(cfg, &fakeRunner{})
	assert.Error(t, err)
}

func TestScheduler_SkipsOverlappingFiringOfSameJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	cfg := config.SchedulerConfig{
		Jobs: []config.ScheduledJobConfig{
			{Name: "slow", SkillName: "x", Message: "y", Cron: "* * * * *", Enabled: true},
		},
	}
	s, err := scheduler.New(cfg, runner)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunOnce(context.Background())
	}()

	// Give the first firing time to mark itself running, then try a
	// second firing while the first is still blocked mid-run.
	time.Sleep(20 * time.Millisecond)
	s.RunOnce(context.Background())

	close(runner.block)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestScheduler_WritesPerJobLogFileWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	cfg := config.SchedulerConfig{
		LogDir: dir,
		Jobs: []config.ScheduledJobConfig{
			{Name: "logged", SkillName: "x", Message: "y", Cron: "0 9 * * *", Enabled: true, LogOutput: true},
		},
	}
	var tick int64
	s, err := scheduler.New(cfg, runner, scheduler.WithNow(func() time.Time {
		tick++
		return time.Unix(tick, 0)
	}))
	require.NoError(t, err)

	s.RunOnce(context.Background())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ok output")
}

func TestScheduler_NextRunAdvancesOnEachFiring(t *testing.T) {
	runner := &fakeRunner{}
	base := time.Date(2026, 1, 1, 8, 59, 0, 0, time.UTC)
	clock := base
	cfg := config.SchedulerConfig{
		Jobs: []config.ScheduledJobConfig{
			{Name: "hourly", SkillName: "x", Message: "y", Cron: "0 9 * * *", Enabled: true},
		},
	}
	s, err := scheduler.New(cfg, runner, scheduler.WithNow(func() time.Time { return clock }))
	require.NoError(t, err)

	first := s.Statuses()[0].NextRun
	assert.Equal(t, 9, first.Hour())

	clock = first.Add(time.Minute)
	s.RunOnce(context.Background())
	second := s.Statuses()[0].NextRun
	assert.True(t, second.After(first))
}
