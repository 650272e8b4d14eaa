// Package reminder periodically scans upcoming occurrences and queues a
// reminder for each one that falls due soon.
package reminder

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
)

// Reminder is a queued notice about one upcoming occurrence.
type Reminder struct {
	UserID       string    `json:"userId"`
	TaskID       string    `json:"taskId"`
	TaskTitle    string    `json:"taskTitle"`
	OccurrenceAt time.Time `json:"occurrenceAt"`
	DueAt        time.Time `json:"dueAt"`
	ReminderAt   time.Time `json:"reminderAt"`
}

// TaskSource is the subset of the store the scan needs.
type TaskSource interface {
	ListUsers(ctx context.Context) ([]string, error)
	ListOpenRecurringOrDue(ctx context.Context, userID string, from, to time.Time) ([]model.Task, error)
}

type key struct {
	user, task string
	start      int64
}

// Queue holds pending reminders per user. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Reminder
	seen    map[key]time.Time
}

func NewQueue() *Queue {
	return &Queue{
		pending: map[string][]Reminder{},
		seen:    map[key]time.Time{},
	}
}

// Add queues r unless a reminder for the same occurrence was queued
// before. It reports whether r was added.
func (q *Queue) Add(r Reminder) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{user: r.UserID, task: r.TaskID, start: r.OccurrenceAt.UnixNano()}
	if _, ok := q.seen[k]; ok {
		return false
	}
	q.seen[k] = r.DueAt
	q.pending[r.UserID] = append(q.pending[r.UserID], r)
	return true
}

// ForUser returns a copy of the user's pending reminders, earliest due
// first.
func (q *Queue) ForUser(userID string) []Reminder {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := slices.Clone(q.pending[userID])
	if out == nil {
		out = []Reminder{}
	}
	slices.SortFunc(out, func(a, b Reminder) int { return a.DueAt.Compare(b.DueAt) })
	return out
}

// Dismiss drops every pending reminder of the user's task and reports how
// many were removed. Dismissed occurrences are not queued again.
func (q *Queue) Dismiss(userID, taskID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.pending[userID])
	q.pending[userID] = slices.DeleteFunc(q.pending[userID], func(r Reminder) bool {
		return r.TaskID == taskID
	})
	return before - len(q.pending[userID])
}

// forget drops dedup entries for occurrences due before cutoff so the set
// does not grow without bound.
func (q *Queue) forget(cutoff time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k, due := range q.seen {
		if due.Before(cutoff) {
			delete(q.seen, k)
		}
	}
}

// Service runs Scan on a cron schedule.
type Service struct {
	src    TaskSource
	queue  *Queue
	ahead  time.Duration
	exp    recurrence.Expander
	now    func() time.Time
	cron   *cron.Cron
	job    cron.Job
	mu     sync.Mutex
	active bool
}

// Options configures a Service.
type Options struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	// Ahead is how far before an occurrence's due time it is reminded.
	Ahead    time.Duration
	Location *time.Location
	Now      func() time.Time
}

func NewService(src TaskSource, queue *Queue, opts Options) (*Service, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Service{
		src:   src,
		queue: queue,
		ahead: opts.Ahead,
		exp:   recurrence.Expander{Now: opts.Now},
		now:   opts.Now,
		cron:  cron.New(cron.WithLocation(opts.Location), cron.WithLogger(cronLogger{})),
	}

	// A scan that outlives its period makes the next tick a no-op.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(s.runScan))
	if _, err := s.cron.AddJob(opts.Schedule, s.job); err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

func (s *Service) runScan() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if n, err := s.Scan(ctx); err != nil {
		appLog.Error("reminder scan failed", err)
	} else if n > 0 {
		appLog.Info("reminders queued", "count", n)
	}
}

// cronLogger sends the scheduler's own messages to appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Queue returns the queue the service fills.
func (s *Service) Queue() *Queue {
	return s.queue
}

// Start begins the cron schedule in the background.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.cron.Start()
	appLog.Info("reminder scheduler started", "ahead", s.ahead.String())
}

// Stop halts the schedule and waits for a running scan to finish or ctx
// to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		appLog.Warn("reminder scan still running at shutdown")
	}
}

// Scan expands every user's open tasks over [now, now+ahead] and queues a
// reminder for each occurrence due in that window. It returns the number
// of reminders newly queued.
func (s *Service) Scan(ctx context.Context) (int, error) {
	now := s.now()
	end := now.Add(s.ahead)

	users, err := s.src.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	added := 0
	for _, user := range users {
		tasks, err := s.src.ListOpenRecurringOrDue(ctx, user, now, end)
		if err != nil {
			return added, fmt.Errorf("list tasks for %s: %w", user, err)
		}
		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return added, err
			}
			added += s.scanTask(user, task, now, end)
		}
	}

	s.queue.forget(now.Add(-24 * time.Hour))
	return added, nil
}

func (s *Service) scanTask(user string, task model.Task, now, end time.Time) int {
	due, ok := task.DueAt.Get()
	if task.Status == model.StatusDone || !ok {
		return 0
	}

	if !task.Recurring() {
		if due.Before(now) || due.After(end) {
			return 0
		}
		return s.queueOne(user, task, task.StartAt.OrElse(due), due)
	}

	// Expansion filters by start; widen the lower bound by the task's
	// duration so occurrences that started earlier but fall due now are
	// seen.
	from := now
	if start, ok := task.StartAt.Get(); ok {
		if d := due.Sub(start); d > 0 {
			from = now.Add(-d)
		}
	}

	added := 0
	for _, occ := range s.exp.Expand(task, from, end).Occurrences {
		if occ.DueAt.Before(now) || occ.DueAt.After(end) {
			continue
		}
		added += s.queueOne(user, task, occ.StartAt, occ.DueAt)
	}
	return added
}

func (s *Service) queueOne(user string, task model.Task, start, due time.Time) int {
	r := Reminder{
		UserID:       user,
		TaskID:       task.ID,
		TaskTitle:    task.Title,
		OccurrenceAt: start,
		DueAt:        due,
		ReminderAt:   due.Add(-s.ahead),
	}
	if !s.queue.Add(r) {
		return 0
	}
	appLog.Debug("reminder queued", "user", user, "task_id", task.ID, "due", due.Format(time.RFC3339))
	return 1
}
