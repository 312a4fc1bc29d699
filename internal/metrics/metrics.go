// Package metrics is a tiny facade the load pipeline emits through. The
// default backend discards everything; cmd wiring may install a real one
// (see the datadog subpackage). Core code depends only on this package.
package metrics

import "sync"

// Labels tag a single observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Pass nil to restore the
// discarding default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
