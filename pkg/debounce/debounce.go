// Package debounce coalesces bursty filesystem touches into a single
// "file is stable" notification per path (C3). Per DESIGN NOTES §9, the
// callback-based handler coupling in the Python source is inverted here:
// Scanner owns no reference to the watcher or task queue, it only emits
// stabilized paths on a channel for some other component to consume.
package debounce

import (
	"sync"
	"time"
)

// Defaults match the Python DebounceScanner's constructor defaults.
const (
	DefaultStabilityWait = 3 * time.Second
	DefaultScanInterval  = 1 * time.Second
)

// Scanner tracks last-touch times for paths and reports a path as stable
// once it has gone StabilityWait without a further touch.
type Scanner struct {
	stabilityWait time.Duration
	scanInterval  time.Duration

	mu      sync.Mutex
	pending map[string]time.Time

	stable chan string
	done   chan struct{}
	once   sync.Once

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithStabilityWait overrides DefaultStabilityWait.
func WithStabilityWait(d time.Duration) Option {
	return func(s *Scanner) { s.stabilityWait = d }
}

// WithScanInterval overrides DefaultScanInterval.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scanner) { s.scanInterval = d }
}

// New constructs a Scanner. Call Run in its own goroutine to start
// scanning, and read Stable() for stabilized paths.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		stabilityWait: DefaultStabilityWait,
		scanInterval:  DefaultScanInterval,
		pending:       make(map[string]time.Time),
		stable:        make(chan string, 64),
		done:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch records that path changed just now, (re)arming its debounce clock.
func (s *Scanner) Touch(path string) {
	s.mu.Lock()
	s.pending[path] = s.now()
	s.mu.Unlock()
}

// Stable receives one path per stabilization event. Callers must keep
// draining it; Run will drop events rather than block indefinitely once
// the channel buffer is full, to avoid stalling the scan loop on a wedged
// consumer.
func (s *Scanner) Stable() <-chan string {
	return s.stable
}

// Run scans the pending map once per scanInterval until ctx-like Stop is
// called. It is meant to run on its own goroutine for the process
// lifetime, mirroring the dedicated debouncer thread in spec.md §5.
func (s *Scanner) Run() {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *Scanner) scanOnce() {
	now := s.now()
	var ready []string

	s.mu.Lock()
	for path, last := range s.pending {
		if now.Sub(last) > s.stabilityWait {
			ready = append(ready, path)
			delete(s.pending, path)
		}
	}
	s.mu.Unlock()

	for _, path := range ready {
		select {
		case s.stable <- path:
		default:
			// Consumer is behind; drop rather than block the scan loop.
			// The path isn't lost forever: any further write re-touches it.
		}
	}
}

// Stop halts the scan loop. Safe to call more than once.
func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.done) })
}
