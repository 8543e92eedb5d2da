package ferdis

import (
	"sync"

	"github.com/behrlich/ferdis-go/internal/metrics"
)

// VerbCall records one ObserveCommand invocation, for assertions in
// tests that exercise the command engine or the connection state
// machine without a real metrics.Metrics backing them.
type VerbCall struct {
	Verb string
	OK   bool
}

// FakeObserver is a metrics.Observer that records every command outcome
// and dispatch latency in call order, so tests can assert on exact call
// sequences; frames, bytes and connection events are plain counters.
type FakeObserver struct {
	mu sync.Mutex

	Frames            int
	BytesRead         uint64
	BytesWritten      uint64
	ConnectionsOpened int
	ConnectionsClosed int
	DispatchLatencies []uint64
	Commands          []VerbCall
}

// NewFakeObserver returns a ready-to-use FakeObserver.
func NewFakeObserver() *FakeObserver {
	return &FakeObserver{}
}

func (f *FakeObserver) ObserveFrame() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Frames++
}

func (f *FakeObserver) ObserveBytesRead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BytesRead += n
}

func (f *FakeObserver) ObserveBytesWritten(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BytesWritten += n
}

func (f *FakeObserver) ObserveConnectionOpened() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectionsOpened++
}

func (f *FakeObserver) ObserveConnectionClosed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectionsClosed++
}

func (f *FakeObserver) ObserveCommand(verb string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, VerbCall{Verb: verb, OK: ok})
}

func (f *FakeObserver) ObserveDispatchLatency(latencyNs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DispatchLatencies = append(f.DispatchLatencies, latencyNs)
}

// HasCommand reports whether verb was observed with outcome ok.
func (f *FakeObserver) HasCommand(verb string, ok bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if c.Verb == verb && c.OK == ok {
			return true
		}
	}
	return false
}

var _ metrics.Observer = (*FakeObserver)(nil)
