package prefs

import (
	"log/slog"
	"sync"

	"github.com/hamster-ime/hamster/internal/storage"
)

type op struct {
	key    string
	pref   storage.Preference
	delete bool
	seq    uint64
}

func (o op) run(b Backend) error {
	if o.delete {
		return b.DeletePreference(o.key)
	}
	return b.SetPreference(o.pref)
}

// writer applies queued writes to the Backend in FIFO order from a single
// goroutine, so writes to one key land in the order they were issued.
type writer struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []op
	pending map[string]op // newest queued op per key
	failed  map[string]bool
	seq     uint64
	busy    bool
	closed  bool
	done    chan struct{}
}

func newWriter(b Backend, logger *slog.Logger) *writer {
	w := &writer{
		backend: b,
		logger:  logger,
		pending: make(map[string]op),
		failed:  make(map[string]bool),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// enqueue reports false if the writer is closed; the caller then writes
// synchronously.
func (w *writer) enqueue(o op) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.seq++
	o.seq = w.seq
	w.queue = append(w.queue, o)
	w.pending[o.key] = o
	w.cond.Broadcast()
	return true
}

// lookup returns the newest write to key that has not reached the store.
func (w *writer) lookup(key string) (op, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.pending[key]
	return o, ok
}

func (w *writer) failedKey(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed[key]
}

func (w *writer) clearFailed(key string) {
	w.mu.Lock()
	delete(w.failed, key)
	w.mu.Unlock()
}

func (w *writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		o := w.queue[0]
		w.queue = w.queue[1:]
		w.busy = true
		w.mu.Unlock()

		err := o.run(w.backend)
		if err != nil {
			w.logger.Error("persisting preference failed", "key", o.key, "error", err)
		}

		w.mu.Lock()
		w.busy = false
		if err != nil {
			w.failed[o.key] = true
		} else {
			delete(w.failed, o.key)
		}
		if cur, ok := w.pending[o.key]; ok && cur.seq == o.seq {
			delete(w.pending, o.key)
		}
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) > 0 || w.busy {
		w.cond.Wait()
	}
}

func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}
