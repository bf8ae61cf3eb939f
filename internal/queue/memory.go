package queue

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryItem struct {
	id   uint64
	body []byte
}

// Memory is an in-process Queue with the same reservation semantics as
// the beanstalkd adapter, used by tests and single-node setups. Expired
// reservations move back to the ready list on the next call.
type Memory struct {
	clock clockwork.Clock
	ttr   time.Duration

	mu       sync.Mutex
	nextID   uint64
	ready    []memoryItem
	reserved map[uint64]memoryReservation
	watchers int
	closed   bool
}

type memoryReservation struct {
	item     memoryItem
	deadline time.Time
}

// NewMemory builds an in-memory queue with the given reservation
// time-to-run. It reports one watcher by default so orchestrator health
// checks pass in tests.
func NewMemory(ttr time.Duration, clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		ttr:      ttr,
		reserved: map[uint64]memoryReservation{},
		watchers: 1,
	}
}

// SetWatchers overrides the reported watcher count.
func (m *Memory) SetWatchers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = n
}

func (m *Memory) Put(body []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.ready = append(m.ready, memoryItem{id: m.nextID, body: body})
	return m.nextID, nil
}

// Reserve returns the oldest ready item, reclaiming expired
// reservations first. It does not block: an empty queue returns
// ErrTimeout immediately, and the caller's poll loop provides the wait.
func (m *Memory) Reserve(timeout time.Duration) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimLocked()
	if len(m.ready) == 0 {
		return nil, ErrTimeout
	}
	item := m.ready[0]
	m.ready = m.ready[1:]
	m.reserved[item.id] = memoryReservation{item: item, deadline: m.clock.Now().Add(m.ttr)}
	return &Item{ID: item.id, Body: item.body}, nil
}

func (m *Memory) reclaimLocked() {
	now := m.clock.Now()
	for id, res := range m.reserved {
		if now.After(res.deadline) || now.Equal(res.deadline) {
			delete(m.reserved, id)
			m.ready = append(m.ready, res.item)
		}
	}
}

func (m *Memory) Delete(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, id)
	for i, item := range m.ready {
		if item.id == id {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Release(id uint64, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reserved[id]
	if !ok {
		return nil
	}
	delete(m.reserved, id)
	m.ready = append(m.ready, res.item)
	return nil
}

func (m *Memory) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimLocked()
	return Stats{
		Connected: !m.closed,
		Watchers:  m.watchers,
		Ready:     len(m.ready),
		Reserved:  len(m.reserved),
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
