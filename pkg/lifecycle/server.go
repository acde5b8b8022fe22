// Package lifecycle wires the service together and owns startup, signal
// handling and ordered shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/creker7/netvigil/pkg/alerts"
	"github.com/creker7/netvigil/pkg/config"
	"github.com/creker7/netvigil/pkg/discovery"
	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/probe"
	"github.com/creker7/netvigil/pkg/scheduler"
	"github.com/creker7/netvigil/pkg/snmp"
	"github.com/creker7/netvigil/pkg/statemon"
	"github.com/creker7/netvigil/pkg/store"
	"github.com/creker7/netvigil/pkg/sysinfo"
	"github.com/creker7/netvigil/pkg/users"
	"github.com/creker7/netvigil/pkg/web"
)

const (
	ShutdownTimeout = 10 * time.Second

	// StopSentinel is dropped into the config root by `netvigil stop`; a
	// running instance notices it and shuts down. Works without signal
	// delivery rights to the target process.
	StopSentinel = "netvigil.stop"

	// PidFile records the pid of the running instance under the config root.
	PidFile = "netvigil.pid"

	stopPollInterval = 2 * time.Second
)

// ServerOptions holds configuration for one service run.
type ServerOptions struct {
	Root string // config root directory
	Addr string // web listen address override, empty for the default
}

// RunServer assembles every component, starts them, and blocks until a
// signal, the stop sentinel, a fatal error, or ctx cancellation. Shutdown is
// ordered: scheduler first (which flushes the dispatcher), then the web
// server, then storage.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("*** Starting netvigil, config root %s", opts.Root)

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create config root: %w", err)
	}

	// Leftover sentinel from a previous stop would kill us immediately.
	os.Remove(filepath.Join(opts.Root, StopSentinel))

	if err := writePidFile(opts.Root); err != nil {
		return err
	}
	defer os.Remove(filepath.Join(opts.Root, PidFile))

	cfg, err := config.Load(opts.Root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	secrets, err := config.OpenSecrets(opts.Root)
	if err != nil {
		return fmt.Errorf("failed to open secret store: %w", err)
	}

	if err := config.MigrateLegacySecrets(opts.Root, &cfg, secrets); err != nil {
		log.Printf("Lifecycle: legacy secret migration failed: %v", err)
	}

	userStore, err := users.Open(opts.Root)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer userStore.Close()

	hist, err := history.Open(opts.Root)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer hist.Close()

	st := store.New()
	if err := st.LoadFile(opts.Root); err != nil {
		log.Printf("Lifecycle: failed to restore endpoints: %v", err)
	}

	// Notification opt-outs live in the user store and win over whatever
	// the endpoint snapshot carried.
	if notify, err := userStore.AllHostNotify(); err == nil {
		for id, n := range notify {
			_ = st.SetNotify(id, n)
		}
	}

	machine := statemon.New(st, cfg.Alerts.FailureThreshold)
	poller := snmp.NewPoller("")
	dispatcher := alerts.NewDispatcher(machine.Transitions(), poller.UPSEvents(), machine, hist)
	sched := scheduler.New(st, probe.NewRunner(), machine, poller, dispatcher, hist)
	sched.ApplyConfig(cfg)

	scanner := discovery.NewScanner()

	primaryIP, err := sysinfo.PrimaryIP(ctx)
	if err != nil {
		log.Printf("Lifecycle: could not determine primary IP: %v", err)
	}

	srv, err := web.NewServer(web.Options{
		Root:       opts.Root,
		Addr:       opts.Addr,
		PrimaryIP:  primaryIP,
		Store:      st,
		Users:      userStore,
		History:    hist,
		Scanner:    scanner,
		Monitor:    sched,
		Dispatcher: dispatcher,
		Secrets:    secrets,
		Config:     cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to set up web server: %w", err)
	}

	go hist.RunJanitor(ctx)
	go st.RunPersister(ctx, opts.Root)
	go watchStopSentinel(ctx, opts.Root, cancel)

	sched.Start(ctx)

	errChan := make(chan error, 1)
	webDone := make(chan struct{})

	go func() {
		defer close(webDone)

		if err := srv.Run(ctx); err != nil {
			select {
			case errChan <- err:
			default:
				log.Printf("Web server error: %v", err)
			}
		}
	}()

	return handleShutdown(ctx, cancel, sched, scanner, webDone, errChan)
}

func handleShutdown(ctx context.Context, cancel context.CancelFunc,
	sched *scheduler.Scheduler, scanner *discovery.Scanner,
	webDone chan struct{}, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		log.Printf("Received error: %v, initiating shutdown", err)
		runErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		log.Printf("Shutdown requested")
	}

	cancel()

	// The scheduler drains in-flight probes and fires the dispatcher one
	// last time so confirmed transitions are not lost.
	sched.Stop()
	scanner.Stop()

	select {
	case <-webDone:
	case <-time.After(ShutdownTimeout):
		log.Printf("Lifecycle: web server did not stop within %v", ShutdownTimeout)
	}

	return runErr
}

// watchStopSentinel polls for the stop file and cancels the run when it
// appears. The sentinel is consumed so the next start is not killed by it.
func watchStopSentinel(ctx context.Context, root string, cancel context.CancelFunc) {
	path := filepath.Join(root, StopSentinel)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				log.Printf("Lifecycle: stop sentinel found, shutting down")
				os.Remove(path)
				cancel()

				return
			}
		}
	}
}

func writePidFile(root string) error {
	path := filepath.Join(root, PidFile)

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	return nil
}

// ReadPid returns the pid recorded by a running instance, or an error when
// none is recorded.
func ReadPid(root string) (int, error) {
	data, err := os.ReadFile(filepath.Join(root, PidFile))
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}

	return pid, nil
}
