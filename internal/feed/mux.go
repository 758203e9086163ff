package feed

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// Mux routes events to the processor owning each pair. One pair's
// fault never stops the others; every processor runs its own loop.
type Mux struct {
	mu    sync.RWMutex
	procs map[string]*Processor
}

// NewMux creates an empty processor registry.
func NewMux() *Mux {
	return &Mux{procs: make(map[string]*Processor)}
}

// Register adds a processor for its pair.
func (m *Mux) Register(p *Processor) {
	m.mu.Lock()
	m.procs[p.Pair()] = p
	m.mu.Unlock()
}

// Get returns the processor for the pair.
func (m *Mux) Get(pair string) (*Processor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.procs[pair]
	return p, ok
}

// Enqueue hands an event to the pair's processing loop.
func (m *Mux) Enqueue(pair string, e Event) error {
	p, ok := m.Get(pair)
	if !ok {
		return errors.Wrap(exception.ErrFeedUnknownPair, pair)
	}
	return p.Enqueue(e)
}

// Run starts every registered processor and blocks until the context
// is done.
func (m *Mux) Run(ctx context.Context) {
	m.mu.RLock()
	procs := make([]*Processor, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
}
