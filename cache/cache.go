// Package cache holds the relay's last-known scan.
package cache

import (
	"sync"

	"github.com/chloezql/breakingnews-sub001/domain"
)

// LastScan is a single slot: empty until the first scan of this process,
// then always the most recent one.
type LastScan struct {
	mu    sync.RWMutex
	event domain.ScanEvent
	set   bool
}

func New() *LastScan {
	return &LastScan{}
}

func (c *LastScan) Store(ev domain.ScanEvent) {
	c.mu.Lock()
	c.event = ev
	c.set = true
	c.mu.Unlock()
}

func (c *LastScan) Load() (domain.ScanEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.event, c.set
}
