package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/builtin"
	"github.com/crystal-mush/voxelshare/pkg/chat"
	"github.com/crystal-mush/voxelshare/pkg/config"
	"github.com/crystal-mush/voxelshare/pkg/download"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/crystal-mush/voxelshare/pkg/metrics"
	"github.com/crystal-mush/voxelshare/pkg/scrollback"
	"github.com/crystal-mush/voxelshare/pkg/session"
	"github.com/crystal-mush/voxelshare/pkg/share"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Host the world and read chat lines from stdin",
		Args:  cobra.NoArgs,
		RunE:  runHost,
	})
}

// console prints chat and join notices for the operator.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvChat, events.EvPeerJoined, events.EvPeerLeft:
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, ev.Text)
}

func (c *console) Closed() bool { return false }

func runHost(cmd *cobra.Command, args []string) error {
	conf, err := loadConf(cmd)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	server := chat.BusWriter{Bus: bus, Source: "server"}
	bus.Subscribe(&console{out: cmd.OutOrStdout()})

	store, err := openStore(conf)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if conf.ScrollbackDB != "" {
		sb, err := openScrollback(conf)
		if err != nil {
			return err
		}
		defer sb.Close()
		bus.Subscribe(sb)
		if conf.ScrollbackRetention > 0 {
			go purgeLoop(cmd.Context(), sb, conf.Retention())
		}
	}

	host, err := share.NewHost(share.Config{
		Addr:        conf.ShareAddr,
		PublicHost:  conf.SharePublicHost,
		JWTSecret:   conf.JWTSecret,
		TokenExpiry: conf.TokenExpiry(),
	}, bus)
	if err != nil {
		return err
	}
	host.OnPeers = m.SetPeers

	sess, err := startSession(conf, store, host)
	if err != nil {
		return err
	}
	var holder session.Holder
	if err := holder.Set(sess); err != nil {
		return err
	}

	wf := builtin.New(builtin.Deps{
		Sessions:  &holder,
		Downloads: download.NewManager(conf.DownloadsDir),
		Chat:      server,
		Bus:       bus,
		Metrics:   m,
	})
	disp, err := wf.Dispatcher()
	if err != nil {
		return err
	}
	disp.OnResult = func(trigger string, err error) {
		m.Command(trigger, err)
		if err != nil {
			log.Printf("Command %s failed: %v", trigger, err)
			server.WriteText(fmt.Sprintf("Command %s failed: %v", trigger, err))
		}
	}

	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		msrv := &http.Server{Addr: conf.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Printf("Metrics listening on %s", conf.MetricsAddr)
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("WARNING: metrics server: %v", err)
			}
		}()
		defer msrv.Close()
	}

	if confPath != "" {
		stop, err := config.Watch(confPath, func(path string) {
			server.WriteText(fmt.Sprintf("Config file changed on disk: %s. Restart to apply it.", filepath.Base(path)))
		})
		if err != nil {
			log.Printf("WARNING: Could not watch config file: %v", err)
		} else {
			defer stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	log.Printf("World %q ready. Type /help for commands.", conf.WorldName)
	repl(ctx, lines, disp.ListTriggers(), func(line string) bool {
		_, ok := disp.TryDispatch(ctx, line)
		return ok
	}, &holder, bus, cmd.OutOrStdout())

	disp.Wait()
	return shutdown(&holder)
}

// repl feeds operator lines to dispatch until input ends, /quit is typed or
// ctx is done. Lines that are not commands are posted as chat.
func repl(ctx context.Context, lines <-chan string, triggers []string, dispatch func(string) bool, holder *session.Holder, bus *events.Bus, out io.Writer) {
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/help":
			fmt.Fprintln(out, "Commands: "+strings.Join(triggers, ", ")+", /help, /quit")
			continue
		}

		if dispatch(line) {
			continue
		}
		if !holder.Active() {
			fmt.Fprintln(out, "No active session. Restart voxelshare to load a world.")
			continue
		}
		bus.Emit(chat.Event("operator", "<operator> "+line))
	}
}

// shutdown saves and quits whatever session is still held.
func shutdown(holder *session.Holder) error {
	sess, ok := holder.Current()
	if !ok {
		return nil
	}
	ctx := context.Background()
	var err error
	if !sess.Options().InMemory {
		if err = sess.Save(ctx); err != nil {
			log.Printf("Error saving world on exit: %v", err)
		} else {
			log.Printf("World saved on exit")
		}
	}
	sess.Quit(ctx)
	holder.Release(sess)
	return err
}

func openScrollback(conf *config.Conf) (*scrollback.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(conf.ScrollbackDB), 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(conf.ScrollbackDB), err)
	}
	return scrollback.Open(conf.ScrollbackDB)
}

// purgeLoop drops scrollback older than retention once an hour.
func purgeLoop(ctx context.Context, sb *scrollback.Writer, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sb.Purge(ctx, retention)
			if err != nil {
				log.Printf("scrollback cleanup error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("scrollback: purged %d old lines", n)
			}
		}
	}
}
