package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"github.com/unpieceof/meemoo/internal/config"
)

type JobKind string

const (
	KindMorning   JobKind = "morning"
	KindRecommend JobKind = "recommend"
)

const MorningJobName = "morning_greeting"

// parser matches the scheduler: six fields, seconds first.
var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

type Schedule struct {
	Expr string `json:"expr"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        JobKind  `json:"kind"`
	Schedule    Schedule `json:"schedule"`
	Enabled     bool     `json:"enabled"`
	State       JobState `json:"state"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

func NewCronJob(name string, kind JobKind, expr string) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Kind:        kind,
		Schedule:    Schedule{Expr: expr},
		Enabled:     true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// JobsFromConfig builds the morning greeting and one recommend_<hh> job per
// recommendation time. Invalid expressions are rejected.
func JobsFromConfig(cfg config.ScheduleConfig) ([]CronJob, error) {
	var jobs []CronJob
	if expr := strings.TrimSpace(cfg.Morning); expr != "" {
		if _, err := parser.Parse(expr); err != nil {
			return nil, fmt.Errorf("morning schedule %q: %w", expr, err)
		}
		jobs = append(jobs, NewCronJob(MorningJobName, KindMorning, expr))
	}

	seen := make(map[string]bool)
	for _, expr := range cfg.Recommend {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		if _, err := parser.Parse(expr); err != nil {
			return nil, fmt.Errorf("recommend schedule %q: %w", expr, err)
		}
		name := "recommend_" + hourLabel(expr)
		if seen[name] {
			return nil, fmt.Errorf("recommend schedule %q: duplicate job %s", expr, name)
		}
		seen[name] = true
		jobs = append(jobs, NewCronJob(name, KindRecommend, expr))
	}
	return jobs, nil
}

// hourLabel renders the hour field as two digits, or the raw field when it
// is not a single hour.
func hourLabel(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) < 3 {
		return strings.NewReplacer(" ", "_", "@", "").Replace(expr)
	}
	hour := fields[2]
	if h, err := strconv.Atoi(hour); err == nil && h >= 0 && h < 24 {
		return fmt.Sprintf("%02d", h)
	}
	return strings.NewReplacer("*", "x", "/", "-", ",", "-").Replace(hour)
}
