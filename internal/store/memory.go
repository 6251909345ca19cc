package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/agentic/pkg/schema"
)

// MemoryStore is the default RunStore: everything lives in process memory
// and is lost on shutdown. It mirrors LibSQLStore's semantics exactly so the
// two are interchangeable in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	events    map[string][]*RunEvent // keyed by run id, ordered by sequence
	schedules map[string]*Schedule
	eventSeq  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*Run),
		events:    make(map[string][]*RunEvent),
		schedules: make(map[string]*Schedule),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already exists", run.ID)
	}
	cp := *run
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Result != nil {
		run.Result = *update.Result
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.ParentID != "" && run.ParentID != filter.ParentID {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventSeq++
	cp := *event
	cp.ID = s.eventSeq
	cp.Sequence = int64(len(s.events[event.RunID])) + 1
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	event.ID = cp.ID
	event.Sequence = cp.Sequence
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*RunEvent
	for _, ev := range s.events[runID] {
		if ev.Sequence <= since {
			continue
		}
		cp := *ev
		events = append(events, &cp)
	}
	return events, nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %s already exists", sched.ID)
	}
	cp := *sched
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	cp := *sched
	return &cp, nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	if update.Enabled != nil {
		sched.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		sched.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sched.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sched.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scheds []*Schedule
	for _, sched := range s.schedules {
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		cp := *sched
		scheds = append(scheds, &cp)
	}
	sort.Slice(scheds, func(i, j int) bool {
		return scheds[i].CreatedAt.Before(scheds[j].CreatedAt)
	})
	if filter.Limit > 0 && len(scheds) > filter.Limit {
		scheds = scheds[:filter.Limit]
	}
	return scheds, nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(s.schedules, id)
	return nil
}

// Migrate is a no-op for the memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error { return ctx.Err() }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func storeNotFound(resource, id string) *schema.AgenticError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", resource, id)
}
