package hook

import (
	"strings"
	"sync"
	"time"
)

// Coalescer buffers progress text per turn key and flushes it either once
// the buffer reaches maxChars or windowMs has elapsed since the first
// unflushed append, whichever comes first — a single-shot timer per block
// key, mirroring the typing controller's keepalive/TTL split.
type Coalescer struct {
	maxChars int
	window   time.Duration
	flush    func(key, text string)

	mu     sync.Mutex
	blocks map[string]*block
}

type block struct {
	buf   strings.Builder
	timer *time.Timer
}

// NewCoalescer creates a Coalescer. flush is invoked with the accumulated
// text whenever a block closes, outside the Coalescer's lock.
func NewCoalescer(maxChars int, window time.Duration, flush func(key, text string)) *Coalescer {
	return &Coalescer{maxChars: maxChars, window: window, flush: flush, blocks: make(map[string]*block)}
}

// Append adds text to key's buffer, flushing immediately if the buffer has
// reached maxChars.
func (c *Coalescer) Append(key, text string) {
	c.mu.Lock()
	b, ok := c.blocks[key]
	if !ok {
		b = &block{}
		c.blocks[key] = b
	}
	b.buf.WriteString(text)

	if c.maxChars > 0 && b.buf.Len() >= c.maxChars {
		flushed := b.buf.String()
		b.buf.Reset()
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		c.mu.Unlock()
		c.flush(key, flushed)
		return
	}

	if b.timer == nil && c.window > 0 {
		b.timer = time.AfterFunc(c.window, func() { c.flushTimer(key) })
	}
	c.mu.Unlock()
}

func (c *Coalescer) flushTimer(key string) {
	c.mu.Lock()
	b, ok := c.blocks[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	text := b.buf.String()
	b.buf.Reset()
	b.timer = nil
	c.mu.Unlock()

	if text != "" {
		c.flush(key, text)
	}
}

// Cancel discards key's buffered text without flushing, stopping its timer.
func (c *Coalescer) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[key]
	if !ok {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	delete(c.blocks, key)
}
