package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-process calendar used by tests and local runs
// without Google credentials.
type MemoryGateway struct {
	mu     sync.Mutex
	events map[string]RemoteEvent
	seq    int
	fail   error
	calls  map[string]int

	// BeforeList, when set, runs at the start of every ListEvents call.
	BeforeList func(ctx context.Context)
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{events: map[string]RemoteEvent{}, calls: map[string]int{}}
}

// Fail makes every subsequent call return err wrapped in ErrUnavailable.
// Passing nil restores normal behaviour.
func (m *MemoryGateway) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Put inserts or replaces an event as if it were edited on the remote side.
func (m *MemoryGateway) Put(ev RemoteEvent) RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		m.seq++
		ev.ID = fmt.Sprintf("evt-%d", m.seq)
	}
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	m.events[ev.ID] = ev
	return ev
}

// Remove deletes an event without going through DeleteEvent.
func (m *MemoryGateway) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
}

func (m *MemoryGateway) Event(id string) (RemoteEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	return ev, ok
}

func (m *MemoryGateway) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Calls returns how often op ("list", "get", "create", "update", "delete") ran.
func (m *MemoryGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryGateway) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	if m.fail != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, m.fail)
	}
	return nil
}

func (m *MemoryGateway) ListEvents(ctx context.Context, start, end time.Time) ([]RemoteEvent, error) {
	if m.BeforeList != nil {
		m.BeforeList(ctx)
	}
	if err := m.begin(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RemoteEvent
	for _, ev := range m.events {
		if ev.Cancelled() {
			continue
		}
		if ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (m *MemoryGateway) GetEvent(ctx context.Context, id string) (RemoteEvent, error) {
	if err := m.begin(ctx, "get"); err != nil {
		return RemoteEvent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return RemoteEvent{}, fmt.Errorf("get event: %w", ErrEventNotFound)
	}
	return ev, nil
}

func (m *MemoryGateway) CreateEvent(ctx context.Context, in EventInput) (RemoteEvent, error) {
	if err := m.begin(ctx, "create"); err != nil {
		return RemoteEvent{}, err
	}
	return m.Put(fromInput("", in)), nil
}

func (m *MemoryGateway) UpdateEvent(ctx context.Context, id string, in EventInput) (RemoteEvent, error) {
	if err := m.begin(ctx, "update"); err != nil {
		return RemoteEvent{}, err
	}
	m.mu.Lock()
	_, ok := m.events[id]
	m.mu.Unlock()
	if !ok {
		return RemoteEvent{}, fmt.Errorf("update event: %w", ErrEventNotFound)
	}
	return m.Put(fromInput(id, in)), nil
}

func (m *MemoryGateway) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if err := m.begin(ctx, "delete"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return false, nil
	}
	delete(m.events, id)
	return true, nil
}

func fromInput(id string, in EventInput) RemoteEvent {
	return RemoteEvent{
		ID:            id,
		Summary:       in.Summary,
		Description:   in.Description,
		Start:         in.Start,
		End:           in.End,
		Status:        "confirmed",
		AppointmentID: in.AppointmentID,
	}
}
