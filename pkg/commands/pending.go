package commands

import "context"

// Pending is the in-flight result of a dispatched command.
type Pending struct {
	Trigger string

	done chan struct{}
	err  error
}

func newPending(trigger string) *Pending {
	return &Pending{Trigger: trigger, done: make(chan struct{})}
}

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Done is closed when the handler returns.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the handler's error once Done is closed, and nil before.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the handler returns or ctx ends, and returns the
// handler's error or the context's.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
