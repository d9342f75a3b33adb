package iot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Store persists gate queues, barrier commands and device logs.
type Store interface {
	Enqueue(ctx context.Context, queue string, ev GateEvent) error
	// MarkProcessed stores the outcome fields of ev in its queue.
	MarkProcessed(ctx context.Context, queue string, ev GateEvent) error
	// LastExitForSession returns the newest processed exit event that
	// checked out sessionID.
	LastExitForSession(ctx context.Context, sessionID string) (GateEvent, error)
	// WaitingExits lists exit events created after since whose last
	// command was WAIT_PAYMENT, oldest first.
	WaitingExits(ctx context.Context, since time.Time) ([]GateEvent, error)
	PushCommand(ctx context.Context, cmd Command) error
	// NextCommand claims the oldest unexecuted command for the device and
	// marks it executed. It returns repository.ErrNotFound when none is
	// waiting.
	NextCommand(ctx context.Context, deviceID string, now time.Time) (Command, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	// Prune deletes queue items created and commands executed more than
	// a day before now, and log entries older than a week. Queue items go
	// by age whether or not they were processed.
	Prune(ctx context.Context, now time.Time) (PruneResult, error)
}

// MemoryStore keeps everything in process.
type MemoryStore struct {
	mu       sync.Mutex
	queues   map[string]map[string]GateEvent
	commands map[string]Command
	logs     []LogEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:   map[string]map[string]GateEvent{EntryQueue: {}, ExitQueue: {}},
		commands: map[string]Command{},
	}
}

func (m *MemoryStore) queue(name string) (map[string]GateEvent, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown queue %s", repository.ErrValidation, name)
	}
	return q, nil
}

func (m *MemoryStore) Enqueue(_ context.Context, queue string, ev GateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return err
	}
	if _, ok := q[ev.ID]; ok {
		return fmt.Errorf("%w: event %s already queued", repository.ErrConflict, ev.ID)
	}
	q[ev.ID] = ev
	return nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, queue string, ev GateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return err
	}
	if _, ok := q[ev.ID]; !ok {
		return fmt.Errorf("%w: event %s", repository.ErrNotFound, ev.ID)
	}
	q[ev.ID] = ev
	return nil
}

func (m *MemoryStore) LastExitForSession(_ context.Context, sessionID string) (GateEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best GateEvent
	found := false
	for _, ev := range m.queues[ExitQueue] {
		if ev.SessionID != sessionID || !ev.Processed {
			continue
		}
		if !found || ev.CreatedAt.After(best.CreatedAt) {
			best, found = ev, true
		}
	}
	if !found {
		return GateEvent{}, fmt.Errorf("%w: no exit event for session %s", repository.ErrNotFound, sessionID)
	}
	return best, nil
}

func (m *MemoryStore) WaitingExits(_ context.Context, since time.Time) ([]GateEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GateEvent, 0)
	for _, ev := range m.queues[ExitQueue] {
		if ev.Action == WaitPayment && ev.SessionID != "" && ev.CreatedAt.After(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) PushCommand(_ context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd.ID] = cmd
	return nil
}

func (m *MemoryStore) NextCommand(_ context.Context, deviceID string, now time.Time) (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make([]Command, 0)
	for _, c := range m.commands {
		if c.DeviceID == deviceID && !c.Executed {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return Command{}, fmt.Errorf("%w: no command for device %s", repository.ErrNotFound, deviceID)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	c := pending[0]
	c.Executed = true
	c.ExecutedAt = now
	m.commands[c.ID] = c
	return c, nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// Logs returns a copy of the device log.
func (m *MemoryStore) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

func (m *MemoryStore) Prune(_ context.Context, now time.Time) (PruneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res PruneResult
	queueCutoff, logCutoff := now.Add(-queueMaxAge), now.Add(-logMaxAge)
	for name, q := range m.queues {
		for id, ev := range q {
			if ev.CreatedAt.Before(queueCutoff) {
				delete(q, id)
				if name == EntryQueue {
					res.EntryQueue++
				} else {
					res.ExitQueue++
				}
			}
		}
	}
	for id, c := range m.commands {
		if c.Executed && c.ExecutedAt.Before(queueCutoff) {
			delete(m.commands, id)
			res.Commands++
		}
	}
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.At.Before(logCutoff) {
			res.Logs++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return res, nil
}
