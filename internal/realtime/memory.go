package realtime

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Two components sharing one MemoryStore
// see each other's writes exactly as they would through Redis, which makes
// it the transport of choice for tests and single-process development.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]Snapshot
	watchers map[string]map[*watcher]struct{}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]Snapshot),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

func (s *MemoryStore) Set(_ context.Context, path, key string, value []byte) error {
	if err := validate(path, key); err != nil {
		return err
	}

	s.mu.Lock()
	children, ok := s.data[path]
	if !ok {
		children = make(Snapshot)
		s.data[path] = children
	}
	children[key] = append([]byte(nil), value...)
	s.notifyLocked(path)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path, key string) error {
	if err := validate(path, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.data[path]
	if !ok {
		return nil
	}
	if _, ok := children[key]; !ok {
		return nil
	}
	delete(children, key)
	if len(children) == 0 {
		delete(s.data, path)
	}
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Snapshot, error) {
	if err := validate(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[path].clone(), nil
}

func (s *MemoryStore) Clear(_ context.Context, path string) error {
	if err := validate(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; !ok {
		return nil
	}
	delete(s.data, path)
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if err := validate(path); err != nil {
		return nil, err
	}

	w := newWatcher(fn)

	s.mu.Lock()
	set, ok := s.watchers[path]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[path] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		w.stop()
		s.mu.Lock()
		if set, ok := s.watchers[path]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(s.watchers, path)
			}
		}
		s.mu.Unlock()
	}

	// The initial snapshot is delivered like any other change.
	w.poke()
	go w.run(ctx, func() Snapshot {
		snap, _ := s.Get(ctx, path)
		return snap
	}, unsubscribe)

	return unsubscribe, nil
}

// notifyLocked pokes every watcher of path. Callers hold s.mu.
func (s *MemoryStore) notifyLocked(path string) {
	for w := range s.watchers[path] {
		w.poke()
	}
}

// watcher delivers coalesced change notifications to one callback.
type watcher struct {
	fn      func(Snapshot)
	changed chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newWatcher(fn func(Snapshot)) *watcher {
	return &watcher{
		fn:      fn,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// poke marks the watcher dirty without blocking; pending pokes coalesce.
func (w *watcher) poke() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// run reads a fresh snapshot after each poke and hands it to fn until the
// watcher is stopped or ctx is done. A nil snapshot means the read failed
// and is not delivered.
func (w *watcher) run(ctx context.Context, read func() Snapshot, unsubscribe Unsubscribe) {
	for {
		select {
		case <-ctx.Done():
			unsubscribe()
			return
		case <-w.done:
			return
		case <-w.changed:
			snap := read()
			if w.stopped() {
				return
			}
			if snap == nil {
				continue
			}
			w.fn(snap)
		}
	}
}
