// Package testing provides test utilities for code built on dabstract.
//
// It includes a scriptable mock source, a chaos source that injects failures
// and latency into another source, and assertion helpers.
//
// Example usage:
//
//	func TestMyPipeline(t *testing.T) {
//		src := dtesting.NewMockSource(t, "clips", 1.0, 2.0, 3.0).
//			WithDelayAt(1, 20*time.Millisecond)
//
//		m := dabstract.NewMaterializer("m", dabstract.Indexable[float64](src), dabstract.WithWorkers(2))
//		out, err := m.GetMany(context.Background(), dabstract.Everything[float64]())
//
//		require.NoError(t, err)
//		assert.Equal(t, []float64{1, 2, 3}, out.Items)
//		dtesting.AssertReads(t, src, 3)
//	}
package testing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yonas-y/dabstract"
)

// MockRead records a single Get on a MockSource.
type MockRead struct {
	Index     int
	Timestamp time.Time
	Context   context.Context
}

// mockState is shared between a MockSource and its clones, so reads through
// any clone are counted in one place.
type mockState struct {
	mu       sync.RWMutex
	calls    int64
	active   int64
	peak     int64
	clones   int64
	perIndex map[int]int
	history  []MockRead
}

// MockSource is a scriptable dabstract.Indexable backed by a slice. It
// records every read and can be told to delay, fail or panic at chosen
// positions. It implements dabstract.Cloner; clones share the script and the
// counters.
type MockSource[T any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t       *testing.T
	name    string
	items   []T
	info    map[int]dabstract.Info
	delay   time.Duration
	delays  map[int]time.Duration
	errs    map[int]error
	panics  map[int]string
	columns map[string]dabstract.Indexable[any]
	state   *mockState
}

// NewMockSource creates a mock source over items.
func NewMockSource[T any](t *testing.T, name string, items ...T) *MockSource[T] {
	return &MockSource[T]{
		t:       t,
		name:    name,
		items:   slices.Clone(items),
		info:    map[int]dabstract.Info{},
		delays:  map[int]time.Duration{},
		errs:    map[int]error{},
		panics:  map[int]string{},
		columns: map[string]dabstract.Indexable[any]{},
		state:   &mockState{perIndex: map[int]int{}},
	}
}

// WithDelay delays every read.
func (m *MockSource[T]) WithDelay(d time.Duration) *MockSource[T] {
	m.delay = d
	return m
}

// WithDelayAt delays reads of one position, overriding WithDelay there.
func (m *MockSource[T]) WithDelayAt(index int, d time.Duration) *MockSource[T] {
	m.delays[index] = d
	return m
}

// WithErrorAt makes reads of one position fail with err.
func (m *MockSource[T]) WithErrorAt(index int, err error) *MockSource[T] {
	m.errs[index] = err
	return m
}

// WithPanicAt makes reads of one position panic with msg.
func (m *MockSource[T]) WithPanicAt(index int, msg string) *MockSource[T] {
	m.panics[index] = msg
	return m
}

// WithInfoAt sets the metadata returned for one position.
func (m *MockSource[T]) WithInfoAt(index int, info dabstract.Info) *MockSource[T] {
	m.info[index] = info
	return m
}

// WithColumn makes Key(name) return column.
func (m *MockSource[T]) WithColumn(name string, column dabstract.Indexable[any]) *MockSource[T] {
	m.columns[name] = column
	return m
}

// Get implements dabstract.Indexable. It records the read and applies the
// script for the position.
func (m *MockSource[T]) Get(ctx context.Context, index int) (T, dabstract.Info, error) {
	var zero T
	atomic.AddInt64(&m.state.calls, 1)
	active := atomic.AddInt64(&m.state.active, 1)
	defer atomic.AddInt64(&m.state.active, -1)
	for {
		peak := atomic.LoadInt64(&m.state.peak)
		if active <= peak || atomic.CompareAndSwapInt64(&m.state.peak, peak, active) {
			break
		}
	}

	m.state.mu.Lock()
	m.state.perIndex[index]++
	m.state.history = append(m.state.history, MockRead{Index: index, Timestamp: time.Now(), Context: ctx})
	m.state.mu.Unlock()

	if msg, ok := m.panics[index]; ok {
		panic(msg)
	}

	delay := m.delay
	if d, ok := m.delays[index]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		}
	}

	if err, ok := m.errs[index]; ok {
		return zero, nil, err
	}
	if index < 0 {
		index += len(m.items)
	}
	if index < 0 || index >= len(m.items) {
		return zero, nil, fmt.Errorf("%w: index %d, length %d", dabstract.ErrOutOfRange, index, len(m.items))
	}
	info := dabstract.Info{}
	for k, v := range m.info[index] {
		info[k] = v
	}
	return m.items[index], info, nil
}

// Len implements dabstract.Indexable.
func (m *MockSource[T]) Len() (int, error) {
	return len(m.items), nil
}

// Key implements dabstract.Indexable.
func (m *MockSource[T]) Key(name string) (dabstract.Indexable[any], error) {
	if column, ok := m.columns[name]; ok {
		return column, nil
	}
	return nil, fmt.Errorf("%w: %s has no column %q", dabstract.ErrKeyNotFound, m.name, name)
}

// Name implements dabstract.Indexable.
func (m *MockSource[T]) Name() dabstract.Name {
	return m.name
}

// Clone implements dabstract.Cloner. The clone shares script and counters.
func (m *MockSource[T]) Clone() dabstract.Indexable[T] {
	atomic.AddInt64(&m.state.clones, 1)
	c := *m
	return &c
}

// CallCount returns the number of reads.
func (m *MockSource[T]) CallCount() int {
	return int(atomic.LoadInt64(&m.state.calls))
}

// CallsAt returns the number of reads of one position.
func (m *MockSource[T]) CallsAt(index int) int {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return m.state.perIndex[index]
}

// MaxConcurrent returns the largest number of reads seen in flight at once.
func (m *MockSource[T]) MaxConcurrent() int {
	return int(atomic.LoadInt64(&m.state.peak))
}

// Clones returns the number of times the source was cloned.
func (m *MockSource[T]) Clones() int {
	return int(atomic.LoadInt64(&m.state.clones))
}

// History returns a copy of the recorded reads, in the order they started.
func (m *MockSource[T]) History() []MockRead {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return slices.Clone(m.state.history)
}

// Reset clears all recorded reads.
func (m *MockSource[T]) Reset() {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	atomic.StoreInt64(&m.state.calls, 0)
	atomic.StoreInt64(&m.state.peak, 0)
	atomic.StoreInt64(&m.state.clones, 0)
	m.state.perIndex = map[int]int{}
	m.state.history = nil
}

// Assertion Helpers

// AssertReads verifies that a mock source was read exactly n times.
func AssertReads[T any](t *testing.T, mock *MockSource[T], expected int) {
	t.Helper()
	if actual := mock.CallCount(); actual != expected {
		t.Errorf("expected mock source %s to be read %d times, but was read %d times",
			mock.name, expected, actual)
	}
}

// AssertNotRead verifies that a mock source was never read.
func AssertNotRead[T any](t *testing.T, mock *MockSource[T]) {
	t.Helper()
	AssertReads(t, mock, 0)
}

// AssertReadAt verifies that one position was read exactly n times.
func AssertReadAt[T any](t *testing.T, mock *MockSource[T], index, expected int) {
	t.Helper()
	if actual := mock.CallsAt(index); actual != expected {
		t.Errorf("expected position %d of mock source %s to be read %d times, but was read %d times",
			index, mock.name, expected, actual)
	}
}

// AssertMaxConcurrent verifies that no more than limit reads were in flight
// at once.
func AssertMaxConcurrent[T any](t *testing.T, mock *MockSource[T], limit int) {
	t.Helper()
	if peak := mock.MaxConcurrent(); peak > limit {
		t.Errorf("expected at most %d concurrent reads of mock source %s, saw %d",
			limit, mock.name, peak)
	}
}

// ReadAll reads every position of ix in order and fails the test on error.
func ReadAll[T any](t *testing.T, ix dabstract.Indexable[T]) []T {
	t.Helper()
	n, err := ix.Len()
	require.NoError(t, err)
	out := make([]T, 0, n)
	for k := 0; k < n; k++ {
		item, _, err := ix.Get(context.Background(), k)
		require.NoError(t, err, "reading position %d of %s", k, ix.Name())
		out = append(out, item)
	}
	return out
}

// ChaosSource introduces controlled failures and latency into another
// source. Failures are drawn from a seeded generator, so a fixed seed
// replays the same chaos.
type ChaosSource[T any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	name        string
	wrapped     dabstract.Indexable[T]
	failureRate float64
	latencyMin  time.Duration
	latencyMax  time.Duration
	panicRate   float64
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	panicCalls  int64
}

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64       // Probability of returning an error (0.0 to 1.0)
	LatencyMin  time.Duration // Minimum additional latency to inject
	LatencyMax  time.Duration // Maximum additional latency to inject
	PanicRate   float64       // Probability of panicking (0.0 to 1.0)
	Seed        int64         // Random seed for reproducible chaos (0 for random seed)
}

// ErrChaos is returned by a ChaosSource for an injected failure.
var ErrChaos = errors.New("chaos source induced failure")

// NewChaosSource creates a chaos source wrapping another source.
func NewChaosSource[T any](name string, wrapped dabstract.Indexable[T], config ChaosConfig) *ChaosSource[T] {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			for _, b := range seedBytes {
				seed = seed<<8 | int64(b)
			}
		}
	}
	return &ChaosSource[T]{
		name:        name,
		wrapped:     wrapped,
		failureRate: config.FailureRate,
		latencyMin:  config.LatencyMin,
		latencyMax:  config.LatencyMax,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: Test utility uses weak RNG for deterministic chaos scenarios
	}
}

// Get implements dabstract.Indexable with chaos injection.
func (c *ChaosSource[T]) Get(ctx context.Context, index int) (T, dabstract.Info, error) {
	var zero T
	atomic.AddInt64(&c.totalCalls, 1)

	c.mu.Lock()
	doPanic := c.rng.Float64() < c.panicRate
	var latency time.Duration
	if c.latencyMax > c.latencyMin {
		latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
	} else {
		latency = c.latencyMin
	}
	fail := c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if doPanic {
		atomic.AddInt64(&c.panicCalls, 1)
		panic("chaos source induced panic")
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		}
	}
	if fail {
		atomic.AddInt64(&c.failedCalls, 1)
		return zero, nil, ErrChaos
	}
	return c.wrapped.Get(ctx, index)
}

// Len implements dabstract.Indexable.
func (c *ChaosSource[T]) Len() (int, error) {
	return c.wrapped.Len()
}

// Key implements dabstract.Indexable. Sub-columns are not chaotic.
func (c *ChaosSource[T]) Key(name string) (dabstract.Indexable[any], error) {
	return c.wrapped.Key(name)
}

// Name implements dabstract.Indexable.
func (c *ChaosSource[T]) Name() dabstract.Name {
	return c.name
}

// Stats returns statistics about chaos injection.
func (c *ChaosSource[T]) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
		PanicCalls:  atomic.LoadInt64(&c.panicCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// FailureRate returns the observed failure rate.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// PanicRate returns the observed panic rate.
func (s ChaosStats) PanicRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.PanicCalls) / float64(s.TotalCalls)
}

// String returns a human-readable representation of the stats.
func (s ChaosStats) String() string {
	return fmt.Sprintf("ChaosStats{Total: %d, Failed: %d (%.1f%%), Panics: %d (%.1f%%)}",
		s.TotalCalls, s.FailedCalls, s.FailureRate()*100,
		s.PanicCalls, s.PanicRate()*100)
}

// Helper Functions

// WaitForReads waits until a mock source was read at least n times, or the
// timeout passes. It reports whether the reads happened.
func WaitForReads[T any](mock *MockSource[T], expected int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expected {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// ParallelTest runs testFunc on several goroutines at once and waits for
// all of them.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}

// MeasureLatency measures the latency of a function call.
func MeasureLatency(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}
