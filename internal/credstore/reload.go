package credstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Reloader tells the broker to re-read its password file.
type Reloader interface {
	Reload(ctx context.Context) error
}

// SignalReloader sends SIGHUP to the broker process named in a pid file.
type SignalReloader struct {
	PIDFile string
}

func (r SignalReloader) Reload(_ context.Context) error {
	data, err := os.ReadFile(r.PIDFile)
	if err != nil {
		return fmt.Errorf("read broker pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid broker pid %q", strings.TrimSpace(string(data)))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find broker process: %w", err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal broker: %w", err)
	}
	return nil
}

// NopReloader is used when the broker watches its password file itself.
type NopReloader struct{}

func (NopReloader) Reload(context.Context) error { return nil }
