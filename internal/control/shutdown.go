package control

import "context"

// Shutdown is the cooperative stop request for a Loop. Trigger may be
// called any number of times from any goroutine; once set it is never
// cleared.
type Shutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewShutdown returns an untriggered token. Cancelling parent triggers it.
func NewShutdown(parent context.Context) *Shutdown {
	ctx, cancel := context.WithCancel(parent)
	return &Shutdown{ctx: ctx, cancel: cancel}
}

// Trigger requests shutdown.
func (s *Shutdown) Trigger() { s.cancel() }

// Requested reports whether shutdown has been requested.
func (s *Shutdown) Requested() bool { return s.ctx.Err() != nil }

// Done is closed once shutdown is requested.
func (s *Shutdown) Done() <-chan struct{} { return s.ctx.Done() }

// Context is done once shutdown is requested.
func (s *Shutdown) Context() context.Context { return s.ctx }
