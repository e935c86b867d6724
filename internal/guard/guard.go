// Package guard provides a process-wide registry of in-flight work keyed by
// string. A second acquisition of a held key is refused, not queued: the
// caller is expected to drop the duplicate cycle and let the holder finish.
package guard

import "sync"

type Registry struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{inFlight: make(map[string]struct{})}
}

// Acquire marks key as in flight. It returns false if the key is already
// held. On success the caller must call the returned release func on every
// exit path.
func (r *Registry) Acquire(key string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.inFlight[key]; held {
		return nil, false
	}
	r.inFlight[key] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.inFlight, key)
		r.mu.Unlock()
	}, true
}

// Held reports whether key is currently in flight.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.inFlight[key]
	return held
}
