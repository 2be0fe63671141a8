// Package session implements the embedded local server that owns one world:
// its live in-memory tree, its durable store, and its remote-joining state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/crystal-mush/voxelshare/pkg/archive"
	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/worldfs"
	"github.com/oklog/ulid/v2"
)

// DefaultWorldFolder is used when Options.WorldFolder is empty.
const DefaultWorldFolder = "/world"

// ErrClosed is returned by operations on a session that has quit.
var ErrClosed = errors.New("session: closed")

// Options configure a local server.
type Options struct {
	WorldName   string
	WorldFolder string // storage root of the world inside FS
	InMemory    bool   // ephemeral save, never written to the store
}

// Sharer makes a session reachable by remote peers.
type Sharer interface {
	Open(ctx context.Context, world string, progress func(string)) (string, error)
	// Close reports whether anything was open.
	Close() (bool, error)
}

// Server is the active local server.
type Server struct {
	id     string
	opts   Options
	fs     *worldfs.Mem
	store  *boltstore.Store
	sharer Sharer

	saveMu sync.Mutex // serializes flushes to the store

	mu     sync.Mutex
	closed bool
}

// Start creates a local server. Durable sessions need a store and load the
// world saved in it, if any; in-memory sessions ignore store.
func Start(opts Options, store *boltstore.Store, sharer Sharer) (*Server, error) {
	if opts.WorldFolder == "" {
		opts.WorldFolder = DefaultWorldFolder
	}
	opts.WorldFolder = worldfs.Clean(opts.WorldFolder)
	if opts.InMemory {
		store = nil
	} else if store == nil {
		return nil, fmt.Errorf("session: durable world %q needs a store", opts.WorldName)
	}

	s := &Server{
		id:     ulid.Make().String(),
		opts:   opts,
		fs:     worldfs.NewMem(),
		store:  store,
		sharer: sharer,
	}
	if err := s.fs.MkdirAll(opts.WorldFolder); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if store != nil && store.HasData() {
		name, files, err := store.LoadWorld()
		if err != nil {
			return nil, fmt.Errorf("session: load world: %w", err)
		}
		if err := worldfs.WriteTree(s.fs, opts.WorldFolder, files); err != nil {
			return nil, fmt.Errorf("session: load world: %w", err)
		}
		if s.opts.WorldName == "" {
			s.opts.WorldName = name
		}
		log.Printf("session: loaded world %q from %s (%d files)", s.opts.WorldName, store.Path(), worldfs.CountFiles(files))
	}

	mode := "durable"
	if opts.InMemory {
		mode = "in-memory"
	}
	log.Printf("session: %s started for %q at %s (%s)", s.id, s.opts.WorldName, opts.WorldFolder, mode)
	return s, nil
}

// ID returns the unique session id.
func (s *Server) ID() string { return s.id }

// Options returns the options the session runs with.
func (s *Server) Options() Options { return s.opts }

// FS returns the live world tree.
func (s *Server) FS() *worldfs.Mem { return s.fs }

// Store returns the durable store, or nil for in-memory sessions.
func (s *Server) Store() *boltstore.Store { return s.store }

// Closed reports whether Quit has been called.
func (s *Server) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Seed replaces the world with the tree below root in src.
func (s *Server) Seed(src worldfs.FS, root string) (int, error) {
	if err := s.fs.RemoveAll(s.opts.WorldFolder); err != nil {
		return 0, fmt.Errorf("session: %w", err)
	}
	n, err := worldfs.Copy(s.fs, s.opts.WorldFolder, src, root)
	if err != nil {
		return n, fmt.Errorf("session: seed: %w", err)
	}
	return n, nil
}

// Import replaces the world with the contents of a zip archive.
func (s *Server) Import(data []byte) (int, error) {
	if err := s.fs.RemoveAll(s.opts.WorldFolder); err != nil {
		return 0, fmt.Errorf("session: %w", err)
	}
	return archive.Extract(data, s.fs, s.opts.WorldFolder)
}

// Save flushes the live world, empty directories included, to the durable
// store and waits for the write to commit. In-memory sessions have nothing
// to flush.
func (s *Server) Save(ctx context.Context) error {
	if s.Closed() {
		return ErrClosed
	}
	if s.store == nil {
		log.Printf("session: %s is in-memory, nothing to save", s.id)
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tree, err := worldfs.Tree(s.fs, s.opts.WorldFolder)
	if err != nil {
		return fmt.Errorf("session: read world: %w", err)
	}
	if err := s.store.ReplaceWorld(s.opts.WorldName, tree); err != nil {
		return err
	}
	return nil
}

// Quit shuts the session down, closing remote joining first. Calling Quit
// again has no effect.
func (s *Server) Quit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.sharer != nil {
		if _, err := s.sharer.Close(); err != nil {
			log.Printf("session: close sharing on quit: %v", err)
		}
	}
	log.Printf("session: %s quit", s.id)
	return nil
}

// OpenToWAN makes the session joinable and returns a status line for the
// operator. Failures are reported in the returned text, never as an error.
func (s *Server) OpenToWAN(ctx context.Context, progress func(string)) string {
	if s.Closed() {
		return "Failed to open to wan: session is closed"
	}
	if s.sharer == nil {
		return "Failed to open to wan: sharing is not configured"
	}
	link, err := s.sharer.Open(ctx, s.opts.WorldName, progress)
	if err != nil {
		log.Printf("session: open to wan: %v", err)
		return fmt.Sprintf("Failed to open to wan: %v", err)
	}
	return "Server opened for remote joining: " + link
}

// CloseWAN stops remote joining. It returns "" when nothing was open.
func (s *Server) CloseWAN() string {
	if s.sharer == nil {
		return ""
	}
	closed, err := s.sharer.Close()
	if err != nil {
		log.Printf("session: close wan: %v", err)
		return fmt.Sprintf("Failed to close wan: %v", err)
	}
	if !closed {
		return ""
	}
	return "Closed remote joining"
}
