package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/sweep"
)

const monitorBatchSize = 500

// Create opens a new ticket at the given priority.
func (s *Service) Create(ctx context.Context, accountID, subject string, priority Priority) (*Ticket, error) {
	if _, ok := Targets[priority]; !ok {
		return nil, ErrInvalidPriority
	}

	now := time.Now().UTC()
	t := &Ticket{
		ID:        generateTicketID(),
		AccountID: accountID,
		Subject:   subject,
		Priority:  priority,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return t, nil
}

// RecordFirstResponse stamps the first agent response and moves the ticket
// to in_progress. A second call is a no-op on the timestamp.
func (s *Service) RecordFirstResponse(ctx context.Context, id string) (*Ticket, error) {
	mu := s.ticketLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	if t.FirstResponseAt != nil {
		return t, nil
	}

	now := time.Now().UTC()
	t.FirstResponseAt = &now
	if t.Status == StatusOpen {
		t.Status = StatusInProgress
	}
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	return t, nil
}

// Resolve closes out a ticket with the given terminal status.
func (s *Service) Resolve(ctx context.Context, id string, terminal Status) (*Ticket, error) {
	if terminal != StatusResolved && terminal != StatusClosed {
		return nil, ErrInvalidStatus
	}

	mu := s.ticketLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, ErrInvalidStatus
	}

	t.Status = terminal
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	return t, nil
}

// Get returns a ticket by ID.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns an account's tickets.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// MonitorSweep scans all non-terminal tickets and escalates newly-detected
// breaches. Already-breached tickets are skipped without re-notifying.
func (s *Service) MonitorSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	result := &sweep.Result{}

	tickets, err := s.store.ListOpen(ctx, monitorBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list tickets for monitor: %w", err)
	}

	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		escalated, err := s.escalateOne(ctx, t.ID, now)
		if err != nil {
			slog.Warn("ticket escalation failed", "ticket", t.ID, "error", err)
			result.Fail(t.ID, err)
			continue
		}
		if !escalated {
			result.Skipped++
			continue
		}
		result.Processed++
	}
	return result, result.Err()
}

// escalateOne re-reads the ticket under its lock and stamps the breach if
// it is new. Returns false when the ticket is in SLA, terminal or already
// stamped.
func (s *Service) escalateOne(ctx context.Context, id string, now time.Time) (bool, error) {
	mu := s.ticketLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.SLABreachedAt != nil || !t.Breached(now) {
		return false, nil
	}

	breachedAt := now
	t.SLABreachedAt = &breachedAt
	t.EscalationCount++
	t.UpdatedAt = now

	// Stamp before fan-out so a notification failure cannot cause a
	// second escalation of the same breach.
	if err := s.store.Update(ctx, t); err != nil {
		return false, fmt.Errorf("failed to update ticket: %w", err)
	}

	adminIDs, err := s.admins.ActiveAdminIDs(ctx)
	if err != nil {
		slog.Error("failed to list admins for escalation", "ticket", t.ID, "error", err)
		return true, nil
	}
	for _, adminID := range adminIDs {
		s.notifier.Notify(ctx, adminID, notify.TypeTicketEscalated,
			"SLA Breach",
			fmt.Sprintf("Ticket %s (%s priority) has breached its SLA target", t.ID, t.Priority))
	}
	return true, nil
}
