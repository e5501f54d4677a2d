package event

import "sync"

// Handler Each kind of event has his own handler
// Based on the Chain of responsibility pattern
type Handler interface {
	Handle(event Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(event Event)

func (f HandlerFunc) Handle(event Event) { f(event) }

// Counter is shared by handlers to count occurrences per event type.
type Counter struct {
	mu     sync.Mutex
	counts map[Type]uint64
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[Type]uint64)}
}

func (c *Counter) Increment(t Type) {
	c.Add(t, 1)
}

func (c *Counter) Add(t Type, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[t] += n
}

func (c *Counter) Get(t Type) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}
