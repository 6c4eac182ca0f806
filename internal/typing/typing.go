// Package typing implements a keepalive+TTL typing-indicator controller, the
// shape discord.go uses inline: start a ticker that refreshes the platform's
// typing indicator before it expires, and stop automatically after a safety
// net duration so a stuck turn can't leave "is typing..." on forever.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is the safety-net TTL after which the controller stops
	// itself even if Stop was never called.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration
	// StartFn issues one "typing" signal to the platform. Called once
	// immediately and then every KeepaliveInterval until Stop.
	StartFn func() error
}

// Controller runs a keepalive loop on its own goroutine until Stop is called
// or MaxDuration elapses.
type Controller struct {
	opts Options

	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done chan struct{}
}

// New creates a Controller. Call Start to begin the keepalive loop.
func New(opts Options) *Controller {
	return &Controller{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start fires StartFn immediately and then launches the keepalive goroutine.
// Safe to call once; subsequent calls are no-ops.
func (c *Controller) Start() {
	c.once.Do(func() {
		if err := c.opts.StartFn(); err != nil {
			slog.Warn("typing: initial start failed", "error", err)
		}
		go c.run()
	})
}

func (c *Controller) run() {
	defer close(c.done)

	ttl := time.NewTimer(c.opts.MaxDuration)
	defer ttl.Stop()

	interval := c.opts.KeepaliveInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ttl.C:
			slog.Debug("typing: max duration reached, stopping")
			return
		case <-ticker.C:
			if err := c.opts.StartFn(); err != nil {
				slog.Warn("typing: keepalive failed", "error", err)
			}
		}
	}
}

// Stop ends the keepalive loop. Safe to call multiple times and from any
// goroutine; returns once the loop has exited.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}
