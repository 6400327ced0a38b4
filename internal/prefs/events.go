package prefs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Origin says what produced a Change.
type Origin string

const (
	OriginWrite  Origin = "write"
	OriginReset  Origin = "reset"
	OriginReload Origin = "reload"
)

// Change is published once per committed write.
type Change struct {
	Key      string    `json:"key"`
	Value    any       `json:"value"`
	Previous any       `json:"previous"`
	Origin   Origin    `json:"origin"`
	At       time.Time `json:"at"`
}

// Subscription receives the changes of the keys it was registered for.
// Its mailbox is unbounded, so publishing never blocks on a slow reader.
type Subscription struct {
	id   string
	keys map[string]struct{} // nil means every key
	bus  *bus

	ch   chan Change
	stop chan struct{}
	once sync.Once

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Change
	closed bool
}

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// C delivers changes in publication order. It is closed by Cancel.
func (s *Subscription) C() <-chan Change { return s.ch }

// Cancel stops delivery and closes C. Undelivered changes are dropped.
// Calling Cancel more than once is safe.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *Subscription) wants(key string) bool {
	if s.keys == nil {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

func (s *Subscription) deliver(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, c)
	s.cond.Broadcast()
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- c:
		case <-s.stop:
			return
		}
	}
}

type bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newBus() *bus {
	return &bus{subs: make(map[string]*Subscription)}
}

func (b *bus) subscribe(keys []string) *Subscription {
	s := &Subscription{
		id:   uuid.New().String(),
		bus:  b,
		ch:   make(chan Change),
		stop: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if len(keys) > 0 {
		s.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			s.keys[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *bus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *bus) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.wants(c.Key) {
			s.deliver(Change{
				Key:      c.Key,
				Value:    cloneValue(c.Value),
				Previous: cloneValue(c.Previous),
				Origin:   c.Origin,
				At:       c.At,
			})
		}
	}
}

func (b *bus) closeAll() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (b *bus) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
