// Package builtin implements the built-in chat commands: world export,
// remote sharing, save and reset.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/crystal-mush/voxelshare/pkg/archive"
	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/chat"
	"github.com/crystal-mush/voxelshare/pkg/commands"
	"github.com/crystal-mush/voxelshare/pkg/download"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/crystal-mush/voxelshare/pkg/metrics"
	"github.com/crystal-mush/voxelshare/pkg/session"
	"github.com/crystal-mush/voxelshare/pkg/worldfs"
)

// ErrNoActiveSession is returned by workflows run without a live session.
var ErrNoActiveSession = errors.New("builtin: no active session")

// Deps are the collaborators the workflows act on. Bus and Metrics are
// optional.
type Deps struct {
	Sessions  *session.Holder
	Downloads *download.Manager
	Chat      chat.Writer
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Recovery  *RecoverySlot
}

// Workflows runs the built-in commands against the held session.
type Workflows struct {
	d Deps
}

// New creates the workflows. A nil Recovery gets a fresh slot.
func New(d Deps) *Workflows {
	if d.Recovery == nil {
		d.Recovery = &RecoverySlot{}
	}
	return &Workflows{d: d}
}

// Recovery returns the slot reset snapshots are kept in.
func (w *Workflows) Recovery() *RecoverySlot { return w.d.Recovery }

// Entries returns the built-in command table.
func (w *Workflows) Entries() []commands.Entry {
	return []commands.Entry{
		{Triggers: []string{"/download", "/export"}, Handler: func(ctx context.Context) error {
			_, err := w.Export(ctx)
			return err
		}},
		{Triggers: []string{"/publish", "/share"}, Handler: w.Publish},
		{Triggers: []string{"/close"}, Handler: w.CloseShare},
		{Triggers: []string{"/reset-world -y"}, Handler: w.Reset},
		{Triggers: []string{"/save"}, Handler: w.Save},
	}
}

// Dispatcher builds a dispatcher over Entries that is active while the
// holder has a running session.
func (w *Workflows) Dispatcher() (*commands.Dispatcher, error) {
	return commands.NewDispatcher(w.d.Sessions.Active, w.Entries()...)
}

func (w *Workflows) current() (*session.Server, error) {
	s, ok := w.d.Sessions.Current()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

func (w *Workflows) say(text string) {
	if w.d.Chat != nil && text != "" {
		w.d.Chat.WriteText(text)
	}
}

func (w *Workflows) emit(ev events.Event) {
	if w.d.Bus != nil {
		w.d.Bus.Emit(ev)
	}
}

// ExportName is the download filename for a world.
func ExportName(world string) string {
	if world == "" {
		world = "world"
	}
	return world + "-exported.zip"
}

// Export archives the world folder and saves it through the download
// manager. The object URL is revoked right after the click. It returns the
// path written.
func (w *Workflows) Export(ctx context.Context) (string, error) {
	s, err := w.current()
	if err != nil {
		return "", err
	}
	opts := s.Options()
	root := worldfs.Clean(opts.WorldFolder)

	res, err := archive.Create(s.FS(), root, opts.WorldName)
	if err != nil {
		return "", fmt.Errorf("builtin: export %s: %w", root, err)
	}

	url := w.d.Downloads.CreateObjectURL(res.Data, "application/zip")
	path, err := w.d.Downloads.Click(download.Anchor{Href: url, Download: ExportName(opts.WorldName)})
	w.d.Downloads.RevokeObjectURL(url)
	if err != nil {
		return "", fmt.Errorf("builtin: export %s: %w", root, err)
	}

	w.d.Metrics.Export(len(res.Data))
	log.Printf("builtin: exported %s (%d files, %d bytes) to %s", root, res.Header.Files, len(res.Data), path)
	w.emit(events.Event{Type: events.EvExported, Source: s.ID(), Text: path, Data: map[string]any{
		"files": res.Header.Files,
		"bytes": len(res.Data),
	}})
	return path, nil
}

// Publish opens the session for remote joining and writes the status line
// into chat.
func (w *Workflows) Publish(ctx context.Context) error {
	s, err := w.current()
	if err != nil {
		return err
	}
	w.say(s.OpenToWAN(ctx, w.say))
	return nil
}

// CloseShare stops remote joining. Nothing is written when nothing was open.
func (w *Workflows) CloseShare(ctx context.Context) error {
	s, err := w.current()
	if err != nil {
		return err
	}
	w.say(s.CloseWAN())
	return nil
}

// Save flushes the world and waits for the store to commit.
func (w *Workflows) Save(ctx context.Context) error {
	s, err := w.current()
	if err != nil {
		return err
	}
	err = s.Save(ctx)
	w.d.Metrics.Save(err)
	if err != nil {
		return fmt.Errorf("builtin: save: %w", err)
	}
	w.say("World saved")
	w.emit(events.Event{Type: events.EvSaved, Source: s.ID()})
	return nil
}

// Reset removes a durable world: the store is snapshotted into the
// recovery slot, the session quits and the store is cleared. In-memory
// sessions are left untouched. A read-only store fails the reset before
// anything happens.
func (w *Workflows) Reset(ctx context.Context) error {
	s, err := w.current()
	if err != nil {
		return err
	}
	opts := s.Options()
	if opts.InMemory {
		log.Printf("builtin: reset skipped, %q is in-memory", opts.WorldName)
		return nil
	}

	// Refuse before quitting when the store cannot be cleared.
	store := s.Store()
	if store.ReadOnly() {
		return fmt.Errorf("builtin: reset: %w", boltstore.ErrReadOnly)
	}
	snap, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("builtin: reset: %w", err)
	}
	w.d.Recovery.Put(opts.WorldName, snap)

	s.Quit(ctx)
	w.d.Sessions.Release(s)
	if err := store.Clear(); err != nil {
		log.Printf("builtin: reset of %q failed after the session quit; stored world in %s is intact: %v", opts.WorldName, store.Path(), err)
		w.say("World reset failed. The session is closed but the saved world was not removed.")
		return fmt.Errorf("builtin: reset: %w", err)
	}
	log.Printf("World removed. Old data saved to the recovery slot (%d bytes, lost on exit)", len(snap))

	w.d.Metrics.Reset()
	w.emit(events.Event{Type: events.EvReset, Source: s.ID(), Text: opts.WorldName})
	return nil
}
