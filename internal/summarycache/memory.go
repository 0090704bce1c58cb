package summarycache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	url     string
	summary string
	stored  time.Time
}

// Memory is a size-bounded LRU with a TTL. Expired entries are dropped lazily on Get
// and by a periodic sweep.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // least recently used at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

func NewMemory(ttl time.Duration, maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 512
	}
	m := &Memory{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Get(_ context.Context, url string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[url]
	if !ok {
		return "", false
	}
	e := elem.Value.(*entry)
	if m.expired(e) {
		m.removeLocked(elem)
		return "", false
	}
	m.order.MoveToBack(elem)
	return e.summary, true
}

func (m *Memory) Set(_ context.Context, url, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[url]; ok {
		e := elem.Value.(*entry)
		e.summary = summary
		e.stored = m.now()
		m.order.MoveToBack(elem)
		return
	}
	if len(m.items) >= m.maxSize {
		if front := m.order.Front(); front != nil {
			m.removeLocked(front)
		}
	}
	m.items[url] = m.order.PushBack(&entry{url: url, summary: summary, stored: m.now()})
}

// Len reports the number of cached entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) expired(e *entry) bool {
	return m.ttl > 0 && m.now().Sub(e.stored) >= m.ttl
}

func (m *Memory) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	m.order.Remove(elem)
	delete(m.items, e.url)
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if m.expired(elem.Value.(*entry)) {
			m.removeLocked(elem)
		}
		elem = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
}
