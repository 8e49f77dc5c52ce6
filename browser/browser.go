// Package browser is the headless-browser port used by resolvers that must
// scrape dynamic pages. The pool owns one process-wide browser; each request
// leases a short-lived isolated context.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipfetch/clipfetch/log"
)

// Context is one isolated browsing context. Callers must Close it; closing
// twice is tolerated.
type Context interface {
	// Navigate loads url and returns the settled page HTML.
	Navigate(ctx context.Context, url string) (string, error)
	// Cookies returns the context's cookie header value for origin.
	Cookies(origin string) (string, error)
	Close() error
}

// ContextOptions shapes a leased context.
type ContextOptions struct {
	Proxy       string
	Fingerprint *Fingerprint
}

// Engine is the actual browser implementation behind the pool.
type Engine interface {
	Start(ctx context.Context) error
	NewContext(opts ContextOptions) (Context, error)
	Stop() error
}

// Pool lazily starts the engine on first lease and tolerates double close.
type Pool struct {
	engine Engine

	mutex   sync.Mutex
	started bool
	closed  bool
}

func NewPool(engine Engine) *Pool {
	return &Pool{engine: engine}
}

// NewContext leases an isolated context, starting the browser if needed.
func (p *Pool) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return nil, fmt.Errorf("browser pool is closed")
	}
	if !p.started {
		if err := p.engine.Start(ctx); err != nil {
			return nil, fmt.Errorf("error starting browser: %w", err)
		}
		p.started = true
	}
	return p.engine.NewContext(opts)
}

// Close shuts the engine down. Safe to call more than once; errors from the
// engine are logged and swallowed, shutdown must not fail the process.
func (p *Pool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed || !p.started {
		p.closed = true
		return
	}
	p.closed = true
	if err := p.engine.Stop(); err != nil {
		log.LogNoRequestID("error stopping browser", "error", err)
	}
}
