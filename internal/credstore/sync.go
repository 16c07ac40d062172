// Package credstore keeps the MQTT broker's password file in step with the devices table.
// Writes happen synchronously so callers can roll back on failure; broker reloads are
// debounced so a burst of claims causes one reload.
package credstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/trapfleet/internal/metrics"
)

const reloadTimeout = 10 * time.Second

// Syncer is the credential-store contract used by the claim and lifecycle services.
type Syncer interface {
	// SyncDevice writes one account. An error means the broker will not accept the device.
	SyncDevice(ctx context.Context, username, password string, triggerReload bool) error
	RemoveDevice(ctx context.Context, username string) error
}

// Coordinator is the single owner of the password file and the reload timer.
type Coordinator struct {
	file     *PasswordFile
	reloader Reloader
	debounce time.Duration

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewCoordinator(file *PasswordFile, reloader Reloader, debounce time.Duration) *Coordinator {
	if reloader == nil {
		reloader = NopReloader{}
	}
	return &Coordinator{
		file:     file,
		reloader: reloader,
		debounce: debounce,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reload loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.run()
}

// Close flushes a pending reload and stops the loop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	close(c.stop)
	if started {
		<-c.done
	}
}

func (c *Coordinator) SyncDevice(ctx context.Context, username, password string, triggerReload bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.file.Upsert(Credential{Username: username, Password: password})
	metrics.CredentialSyncsTotal.WithLabelValues("upsert", metrics.Outcome(err)).Inc()
	if err != nil {
		return err
	}
	if triggerReload {
		c.scheduleReload()
	}
	return nil
}

func (c *Coordinator) RemoveDevice(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.file.Remove(username)
	metrics.CredentialSyncsTotal.WithLabelValues("remove", metrics.Outcome(err)).Inc()
	if err != nil {
		return err
	}
	c.scheduleReload()
	return nil
}

// Resync writes every credential and prunes device accounts that are neither in creds nor
// kept, in a single pass. One reload is scheduled when the file changed.
func (c *Coordinator) Resync(ctx context.Context, creds []Credential, keep func(username string) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	removed, err := c.file.Reconcile(creds, keep)
	metrics.CredentialSyncsTotal.WithLabelValues("resync", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if len(creds) > 0 || len(removed) > 0 {
		c.scheduleReload()
	}
	return removed, nil
}

func (c *Coordinator) scheduleReload() {
	select {
	case c.kick <- struct{}{}:
	default:
		// a reload is already queued
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	// Stop and Reset never leave a stale tick in timer.C on Go 1.23+.
	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := false
	for {
		select {
		case <-c.kick:
			timer.Reset(c.debounce)
			pending = true
		case <-timer.C:
			pending = false
			c.reload()
		case <-c.stop:
			select {
			case <-c.kick:
				pending = true
			default:
			}
			if pending {
				c.reload()
			}
			return
		}
	}
}

func (c *Coordinator) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	err := c.reloader.Reload(ctx)
	metrics.BrokerReloadsTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		slog.Error("broker reload failed", "password_file", c.file.Path(), "error", err)
		return
	}
	slog.Info("broker reloaded", "password_file", c.file.Path())
}
