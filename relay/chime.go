package relay

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Chime rings the terminal bell when a scan is accepted. A nil *Chime is
// silent.
type Chime struct {
	mu  sync.Mutex
	out io.Writer
}

func NewChime(out io.Writer) *Chime {
	if out == nil {
		out = os.Stderr
	}
	return &Chime{out: out}
}

func (c *Chime) Ring() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.out, "\a"); err != nil {
		slog.Debug("chime failed", "error", err)
	}
}
