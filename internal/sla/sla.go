// Package sla tracks support tickets against priority-based response and
// resolution targets and escalates breaches.
//
// A breach is a derived condition: a non-terminal ticket either has no
// first response past its response target, or is unresolved past its
// resolution target. The monitor sweep recomputes it each run. Escalation
// is edge-triggered: the first sweep that detects a breach stamps the
// ticket, bumps its escalation count and notifies the active admins;
// later sweeps over the same still-breached ticket do nothing.
package sla

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/assetmarket/internal/idgen"
	"github.com/mbd888/assetmarket/internal/notify"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrInvalidStatus   = errors.New("invalid ticket status for this operation")
	ErrInvalidPriority = errors.New("unknown ticket priority")
)

// Priority classifies a ticket's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Target holds the SLA bounds for one priority, in hours from creation.
type Target struct {
	ResponseHours   int
	ResolutionHours int
}

// Targets is the fixed per-priority SLA schedule.
var Targets = map[Priority]Target{
	PriorityLow:    {ResponseHours: 48, ResolutionHours: 168},
	PriorityMedium: {ResponseHours: 24, ResolutionHours: 72},
	PriorityHigh:   {ResponseHours: 4, ResolutionHours: 24},
	PriorityUrgent: {ResponseHours: 1, ResolutionHours: 8},
}

// Status represents the state of a support ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Ticket is a support request tracked against the SLA schedule.
type Ticket struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"accountId"`
	Subject         string     `json:"subject"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	FirstResponseAt *time.Time `json:"firstResponseAt,omitempty"`
	SLABreachedAt   *time.Time `json:"slaBreachedAt,omitempty"`
	EscalationCount int        `json:"escalationCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the ticket is in a final state.
func (t *Ticket) IsTerminal() bool {
	switch t.Status {
	case StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Breached reports whether the ticket is out of SLA at the given time.
// Terminal tickets never breach.
func (t *Ticket) Breached(now time.Time) bool {
	if t.IsTerminal() {
		return false
	}
	target, ok := Targets[t.Priority]
	if !ok {
		return false
	}
	elapsed := now.Sub(t.CreatedAt)
	if t.FirstResponseAt == nil && elapsed > time.Duration(target.ResponseHours)*time.Hour {
		return true
	}
	return elapsed > time.Duration(target.ResolutionHours)*time.Hour
}

// Store persists ticket data.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Ticket, error)
	ListOpen(ctx context.Context, limit int) ([]*Ticket, error)
}

// AdminDirectory lists the accounts that receive escalation notifications.
type AdminDirectory interface {
	ActiveAdminIDs(ctx context.Context) ([]string, error)
}

// Notifier delivers account-addressed notifications (best-effort).
type Notifier interface {
	Notify(ctx context.Context, accountID string, typ notify.Type, title, message string)
}

// Service implements the escalation engine.
type Service struct {
	store    Store
	admins   AdminDirectory
	notifier Notifier
	locks    sync.Map // per-ticket ID locks
}

// NewService creates a new SLA service.
func NewService(store Store, admins AdminDirectory, notifier Notifier) *Service {
	return &Service{
		store:    store,
		admins:   admins,
		notifier: notifier,
	}
}

// ticketLock returns a mutex for the given ticket ID.
func (s *Service) ticketLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateTicketID() string {
	return idgen.WithPrefix("tkt_")
}
