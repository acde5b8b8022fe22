package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creker7/netvigil/pkg/lifecycle"
)

func defaultRoot() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "netvigil")
	}

	return "."
}

func main() {
	root := flag.String("root", defaultRoot(), "Config root directory")
	addr := flag.String("listen", "", "Web listen address override")
	startFlag := flag.Bool("start", false, "Run the monitoring service")
	stopFlag := flag.Bool("stop", false, "Stop a running instance")
	flag.Parse()

	stop := *stopFlag || flag.Arg(0) == "stop"
	_ = *startFlag // start is the default; the flag exists for symmetry

	if stop {
		if err := stopInstance(*root); err != nil {
			log.Fatalf("Failed to stop: %v", err)
		}

		return
	}

	if err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		Root: *root,
		Addr: *addr,
	}); err != nil {
		log.Fatalf("Service exited: %v", err)
	}
}

// stopInstance asks a running instance to shut down: first the stop
// sentinel, then SIGTERM, then SIGKILL, with growing waits in between.
func stopInstance(root string) error {
	pid, err := lifecycle.ReadPid(root)
	if err != nil {
		return fmt.Errorf("no running instance found: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("no process with pid %d: %w", pid, err)
	}

	sentinel := filepath.Join(root, lifecycle.StopSentinel)
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		return fmt.Errorf("failed to write stop sentinel: %w", err)
	}

	log.Printf("Asked pid %d to stop", pid)

	if waitGone(proc, 4*time.Second) {
		return nil
	}

	log.Printf("Still running, sending SIGTERM to pid %d", pid)

	if err := proc.Signal(syscall.SIGTERM); err == nil && waitGone(proc, 8*time.Second) {
		return nil
	}

	log.Printf("Still running, killing pid %d", pid)

	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}

	return nil
}

// waitGone polls the process with signal 0 until it disappears or the
// deadline passes, backing off exponentially.
func waitGone(proc *os.Process, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	wait := 250 * time.Millisecond

	for time.Now().Before(deadline) {
		time.Sleep(wait)
		wait *= 2

		if proc.Signal(syscall.Signal(0)) != nil {
			return true
		}
	}

	return false
}
