// Package models holds staff work items: tasks grouped by planning week with a priority
// and an optional due date.
package models

import (
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusOverdue is never stored. A task reads as overdue when its due date has passed
	// and it is not completed.
	StatusOverdue Status = "overdue"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusOverdue:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	DefaultWeek    = 1
	maxTitleLength = 200
)

// Task is a unit of staff work.
//
// Invariants:
//   - Title is non-empty and at most 200 characters
//   - Week is at least 1
//   - the stored Status is never StatusOverdue
//   - CompletedAt is set exactly when Status is StatusCompleted
type Task struct {
	ID           id.TaskID  `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AssignedTo   id.UserID  `json:"assigned_to,omitempty"`
	AssigneeName string     `json:"assignee_name,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	DueDate      id.Date    `json:"due_date"`
	Week         int        `json:"week"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Fields are the editable attributes of a task. Zero values pick the defaults on create and
// keep the current value on edit.
type Fields struct {
	Title        string
	Description  *string
	AssignedTo   *id.UserID
	AssigneeName string
	Status       Status
	Priority     Priority
	DueDate      *id.Date
	Week         int
}

func NewTask(f Fields, now time.Time) (*Task, error) {
	t := &Task{
		Status:    StatusPending,
		Priority:  PriorityMedium,
		Week:      DefaultWeek,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strings.TrimSpace(f.Title) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "task title cannot be empty")
	}
	if _, err := t.ApplyEdit(f, now); err != nil {
		return nil, err
	}
	return t, nil
}

// ApplyEdit validates f and applies it. Nothing changes when validation fails. Reports
// whether anything changed.
func (t *Task) ApplyEdit(f Fields, now time.Time) (bool, error) {
	next := *t
	if title := strings.TrimSpace(f.Title); title != "" {
		if len(title) > maxTitleLength {
			return false, dErrors.New(dErrors.CodeInvariantViolation, "task title must be at most 200 characters")
		}
		next.Title = title
	}
	if f.Description != nil {
		next.Description = strings.TrimSpace(*f.Description)
	}
	if f.AssignedTo != nil {
		next.AssignedTo = *f.AssignedTo
		next.AssigneeName = ""
		if !f.AssignedTo.IsNil() {
			next.AssigneeName = f.AssigneeName
		}
	}
	if f.Priority != "" {
		if !f.Priority.IsValid() {
			return false, dErrors.New(dErrors.CodeInvariantViolation, "unknown priority: "+string(f.Priority))
		}
		next.Priority = f.Priority
	}
	if f.DueDate != nil {
		next.DueDate = *f.DueDate
	}
	if f.Week != 0 {
		if f.Week < 1 {
			return false, dErrors.New(dErrors.CodeInvariantViolation, "week must be at least 1")
		}
		next.Week = f.Week
	}
	if f.Status != "" {
		switch f.Status {
		case StatusOverdue:
			return false, dErrors.New(dErrors.CodeInvariantViolation, "overdue follows from the due date and cannot be set")
		case StatusPending, StatusInProgress, StatusCompleted:
		default:
			return false, dErrors.New(dErrors.CodeInvariantViolation, "unknown status: "+string(f.Status))
		}
		next.setStatus(f.Status, now)
	}

	changed := next.Title != t.Title || next.Description != t.Description ||
		next.AssignedTo != t.AssignedTo || next.Status != t.Status ||
		next.Priority != t.Priority || !next.DueDate.Equal(t.DueDate) || next.Week != t.Week
	if changed {
		next.UpdatedAt = now
	}
	*t = next
	return changed, nil
}

// Complete marks the task done. Completing twice keeps the first completion time.
func (t *Task) Complete(now time.Time) bool {
	if t.Status == StatusCompleted {
		return false
	}
	t.setStatus(StatusCompleted, now)
	t.UpdatedAt = now
	return true
}

func (t *Task) setStatus(s Status, now time.Time) {
	if s == t.Status {
		return
	}
	t.Status = s
	if s == StatusCompleted {
		at := now
		t.CompletedAt = &at
		return
	}
	t.CompletedAt = nil
}

// Overdue reports whether the due date passed before today without completion.
func (t *Task) Overdue(today id.Date) bool {
	return t.Status != StatusCompleted && !t.DueDate.IsZero() && t.DueDate.Before(today)
}

// EffectiveStatus is the status shown to users on today.
func (t *Task) EffectiveStatus(today id.Date) Status {
	if t.Overdue(today) {
		return StatusOverdue
	}
	return t.Status
}

// Subject is the audit subject for this task.
func (t *Task) Subject() string {
	return "task:" + t.ID.String()
}

// Filter narrows a task listing. Empty fields match everything.
type Filter struct {
	// Search matches title, description or assignee name, case-insensitively.
	Search   string
	Status   Status
	Priority Priority
	Week     int
	// Today resolves the overdue status.
	Today id.Date
}

// Matches applies f to t.
func (f Filter) Matches(t *Task) bool {
	if f.Status != "" && t.EffectiveStatus(f.Today) != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Week != 0 && t.Week != f.Week {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.AssigneeName), q)
	}
	return true
}

// Counts are the dashboard totals per effective status.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Add counts t under its effective status on today.
func (c *Counts) Add(t *Task, today id.Date) {
	c.Total++
	switch t.EffectiveStatus(today) {
	case StatusPending:
		c.Pending++
	case StatusInProgress:
		c.InProgress++
	case StatusCompleted:
		c.Completed++
	case StatusOverdue:
		c.Overdue++
	}
}
