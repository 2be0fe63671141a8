// Package commands resolves chat lines to built-in command handlers.
package commands

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Handler is the body of a command.
type Handler func(ctx context.Context) error

// Entry binds one or more triggers to a handler.
type Entry struct {
	Triggers []string
	Handler  Handler
}


// Dispatcher is an immutable table of commands. Handlers only run while
// active reports a live session.
type Dispatcher struct {
	active   func() bool
	handlers map[string]Handler
	triggers []string

	// OnResult, if set, is called from the handler goroutine after every
	// dispatched command finishes.
	OnResult func(trigger string, err error)

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatch table. Every entry needs a handler and at
// least one trigger. Triggers are literal chat lines: they must be unique
// across the table and may not start or end with whitespace.
func NewDispatcher(active func() bool, entries ...Entry) (*Dispatcher, error) {
	d := &Dispatcher{active: active, handlers: make(map[string]Handler)}
	for i, e := range entries {
		if e.Handler == nil {
			return nil, fmt.Errorf("commands: entry %d has no handler", i)
		}
		if len(e.Triggers) == 0 {
			return nil, fmt.Errorf("commands: entry %d has no triggers", i)
		}
		for _, t := range e.Triggers {
			if strings.TrimSpace(t) == "" {
				return nil, fmt.Errorf("commands: entry %d has an empty trigger", i)
			}
			if strings.TrimSpace(t) != t {
				return nil, fmt.Errorf("commands: trigger %q has surrounding whitespace", t)
			}
			if _, dup := d.handlers[t]; dup {
				return nil, fmt.Errorf("commands: duplicate trigger %q", t)
			}
			d.handlers[t] = e.Handler
			d.triggers = append(d.triggers, t)
		}
	}
	return d, nil
}

// ListTriggers returns every registered trigger in registration order.
func (d *Dispatcher) ListTriggers() []string {
	return append([]string(nil), d.triggers...)
}

// TryDispatch starts the handler registered for msg and returns without
// waiting for it. msg must equal a trigger byte for byte; "/save " or
// "/reset-world  -y" do not match. It reports false, doing nothing, when no
// session is active or nothing matches. Handlers are neither queued nor
// de-duplicated and may run concurrently.
func (d *Dispatcher) TryDispatch(ctx context.Context, msg string) (*Pending, bool) {
	if d.active == nil || !d.active() {
		return nil, false
	}
	h, ok := d.handlers[msg]
	if !ok {
		return nil, false
	}
	pending := newPending(msg)
	d.wg.Add(1)
	go d.run(ctx, h, pending)
	return pending, true
}

// Wait blocks until every dispatched handler has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, h Handler, p *Pending) {
	defer d.wg.Done()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("commands: %s panicked: %v", p.Trigger, r)
				err = fmt.Errorf("commands: %s panicked: %v", p.Trigger, r)
			}
		}()
		err = h(ctx)
	}()
	p.finish(err)
	if d.OnResult != nil {
		d.OnResult(p.Trigger, err)
	}
}
