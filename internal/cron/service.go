// Package cron schedules the morning greeting and recommendation broadcasts.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/unpieceof/meemoo/internal/memo"
)

type Service struct {
	storePath string
	loc       *time.Location
	mu        sync.Mutex
	jobs      []CronJob
	OnJob     func(ctx context.Context, job CronJob) (string, error)
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
}

// NewService keeps job state at storePath and fires schedules in loc.
func NewService(storePath string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		storePath: storePath,
		loc:       loc,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

// Sync replaces the job set with jobs, matching by name so a job keeps its
// ID and last-run state across restarts. Persisted jobs missing from jobs
// are dropped.
func (s *Service) Sync(jobs []CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		if err := s.load(); err != nil {
			log.Printf("[cron] warning: failed to load jobs: %v", err)
		}
	}
	previous := make(map[string]CronJob, len(s.jobs))
	for _, j := range s.jobs {
		previous[j.Name] = j
	}

	merged := make([]CronJob, 0, len(jobs))
	for _, j := range jobs {
		if old, ok := previous[j.Name]; ok {
			j.ID = old.ID
			j.State = old.State
			j.CreatedAtMs = old.CreatedAtMs
		}
		merged = append(merged, j)
	}

	if s.cron != nil {
		for id, entryID := range s.entryMap {
			s.cron.Remove(entryID)
			delete(s.entryMap, id)
		}
	}
	s.jobs = merged
	if s.cron != nil {
		s.registerAll()
	}

	if err := s.save(); err != nil {
		return fmt.Errorf("save jobs: %w", err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	if len(s.jobs) == 0 {
		if err := s.load(); err != nil {
			log.Printf("[cron] warning: failed to load jobs: %v", err)
		}
	}
	s.cron = rcron.New(rcron.WithSeconds(), rcron.WithLocation(s.loc))
	s.registerAll()
	count := len(s.entryMap)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs (%s)", count, s.loc)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerAll must be called with s.mu held.
func (s *Service) registerAll() {
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.registerJob(&s.jobs[i])
		}
	}
}

func (s *Service) registerJob(job *CronJob) {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

// RunNow executes the named job immediately.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var found *CronJob
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			job := s.jobs[i]
			found = &job
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("job %s not found", name)
	}
	s.executeJob(*found)
	return nil
}

func (s *Service) executeJob(job CronJob) {
	log.Printf("[cron] executing job %s (%s)", job.Name, job.ID)

	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.OnJob(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, memo.Truncate(result, 100))
		}
		break
	}

	if err := s.save(); err != nil {
		log.Printf("[cron] save state failed: %v", err)
	}
}

// Stop halts scheduling and waits up to 5 seconds for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	if cancel != nil {
		cancel()
	}
	log.Printf("[cron] stopped")
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		_ = s.load()
	}
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// NextRun reports when the job with id fires next; zero when unscheduled.
func (s *Service) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok || s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.jobs)
}

func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
