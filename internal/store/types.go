package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/agentic/pkg/schema"
)

// Run is the persisted record of a single agent instance execution.
type Run struct {
	ID          string                `json:"id"`
	AgentLabel  string                `json:"agent_label"`
	ParentID    string                `json:"parent_run_id,omitempty"`
	Status      schema.InstanceStatus `json:"status"`
	Input       string                `json:"input,omitempty"`
	Result      string                `json:"result,omitempty"`
	Error       json.RawMessage       `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// RunEvent is an immutable entry in a run's lifecycle log.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StateKey  string          `json:"state_key,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Schedule is a cron-triggered root agent run.
type Schedule struct {
	ID             string     `json:"id"`
	ConfigFile     string     `json:"config_file"`
	CronExpression string     `json:"cron_expression"`
	Input          string     `json:"input,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   *schema.InstanceStatus `json:"status,omitempty"`
	ParentID string                 `json:"parent_run_id,omitempty"`
	Since    *time.Time             `json:"since,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.InstanceStatus `json:"status,omitempty"`
	Result      *string                `json:"result,omitempty"`
	Error       json.RawMessage        `json:"error,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
