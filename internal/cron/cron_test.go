package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unpieceof/meemoo/internal/config"
)

func TestNewCronJob(t *testing.T) {
	job := NewCronJob("test", KindRecommend, "0 0 9 * * *")
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "test" || job.Kind != KindRecommend {
		t.Errorf("job = %+v", job)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
}

func TestJobsFromConfig(t *testing.T) {
	jobs, err := JobsFromConfig(config.ScheduleConfig{
		Morning:   "0 0 6 * * *",
		Recommend: []string{"0 0 9 * * *", "0 30 20 * * *", " "},
	})
	if err != nil {
		t.Fatalf("JobsFromConfig error: %v", err)
	}
	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	want := []string{"morning_greeting", "recommend_09", "recommend_20"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if jobs[0].Kind != KindMorning || jobs[1].Kind != KindRecommend {
		t.Errorf("kinds = %s, %s", jobs[0].Kind, jobs[1].Kind)
	}
}

func TestJobsFromConfig_Invalid(t *testing.T) {
	if _, err := JobsFromConfig(config.ScheduleConfig{Morning: "not a cron"}); err == nil {
		t.Error("expected error for invalid morning expression")
	}
	if _, err := JobsFromConfig(config.ScheduleConfig{Recommend: []string{"0 0 9 * *"}}); err == nil {
		t.Error("expected error for five-field expression")
	}
	if _, err := JobsFromConfig(config.ScheduleConfig{Recommend: []string{"0 0 9 * * *", "0 30 9 * * *"}}); err == nil {
		t.Error("expected error for two jobs in the same hour")
	}
}

func TestHourLabel(t *testing.T) {
	tests := map[string]string{
		"0 0 9 * * *":    "09",
		"0 0 20 * * *":   "20",
		"0 0 */2 * * *":  "x-2",
		"@every 1h":      "every_1h",
		"0 0 9,21 * * *": "9-21",
	}
	for expr, want := range tests {
		if got := hourLabel(expr); got != want {
			t.Errorf("hourLabel(%q) = %q, want %q", expr, got, want)
		}
	}
}

func TestService_SyncPersistsAndKeepsState(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "cron", "jobs.json")

	s := NewService(storePath, time.UTC)
	jobs, _ := JobsFromConfig(config.ScheduleConfig{Morning: "0 0 6 * * *", Recommend: []string{"0 0 9 * * *"}})
	if err := s.Sync(jobs); err != nil {
		t.Fatalf("Sync error: %v", err)
	}

	s.OnJob = func(ctx context.Context, job CronJob) (string, error) { return "sent to 2", nil }
	if err := s.RunNow(MorningJobName); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	first := s.ListJobs()

	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []CronJob
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stored) != 2 || stored[0].State.LastStatus != "ok" {
		t.Fatalf("stored = %+v", stored)
	}

	// A restart with a changed recommend time keeps the morning job's identity.
	s2 := NewService(storePath, time.UTC)
	jobs2, _ := JobsFromConfig(config.ScheduleConfig{Morning: "0 0 7 * * *", Recommend: []string{"0 0 21 * * *"}})
	if err := s2.Sync(jobs2); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	got := s2.ListJobs()
	if len(got) != 2 {
		t.Fatalf("jobs = %+v", got)
	}
	if got[0].ID != first[0].ID || got[0].State.LastStatus != "ok" || got[0].Schedule.Expr != "0 0 7 * * *" {
		t.Errorf("morning job = %+v, want same id and state with new expr", got[0])
	}
	if got[1].Name != "recommend_21" {
		t.Errorf("stale recommend job should be replaced, got %q", got[1].Name)
	}
}

func TestService_RunNowRecordsError(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"), time.UTC)
	_ = s.Sync([]CronJob{NewCronJob("recommend_09", KindRecommend, "0 0 9 * * *")})
	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		return "", errors.New("store locked")
	}

	if err := s.RunNow("recommend_09"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	job := s.ListJobs()[0]
	if job.State.LastStatus != "error" || job.State.LastError != "store locked" || job.State.LastRunAtMs == 0 {
		t.Errorf("state = %+v", job.State)
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestService_NoHandler(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"), time.UTC)
	_ = s.Sync([]CronJob{NewCronJob("morning_greeting", KindMorning, "0 0 6 * * *")})

	if err := s.RunNow("morning_greeting"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	if s.ListJobs()[0].State.LastStatus != "" {
		t.Error("state should be untouched without a handler")
	}
}

func TestService_StartFiresScheduledJob(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"), time.UTC)
	_ = s.Sync([]CronJob{NewCronJob("recommend_every", KindRecommend, "* * * * * *")})

	var calls atomic.Int32
	s.OnJob = func(ctx context.Context, job CronJob) (string, error) {
		calls.Add(1)
		return "ok", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("job did not fire")
	}
	if s.NextRun(s.ListJobs()[0].ID).IsZero() {
		t.Error("NextRun should be set for a scheduled job")
	}
}

func TestService_DisabledJobNotScheduled(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"), time.UTC)
	job := NewCronJob("morning_greeting", KindMorning, "0 0 6 * * *")
	job.Enabled = false
	_ = s.Sync([]CronJob{job})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Start(ctx)
	defer s.Stop()

	if !s.NextRun(job.ID).IsZero() {
		t.Error("disabled job should not be scheduled")
	}
}

func TestService_StopIdempotent(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"), time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Start(ctx)

	s.Stop()
	s.Stop()
	cancel()
}

func TestService_LoadCorrupt(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(storePath, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewService(storePath, time.UTC)
	if err := s.Sync([]CronJob{NewCronJob("morning_greeting", KindMorning, "0 0 6 * * *")}); err != nil {
		t.Fatalf("Sync should recover from a corrupt state file: %v", err)
	}
	if len(s.ListJobs()) != 1 {
		t.Error("expected the configured job")
	}
}
