package gitsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller refreshes git status in the background and caches the last result.
// It never touches ledger files.
type Poller struct {
	client   *Client
	interval time.Duration
	fetch    bool
	logger   *zap.Logger

	mu   sync.RWMutex
	last Status
	ok   bool
}

// NewPoller constructs a poller.
func NewPoller(client *Client, interval time.Duration, fetch bool, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{client: client, interval: interval, fetch: fetch, logger: logger}
}

// Start refreshes once and then on every tick until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	if p == nil || p.client == nil {
		return
	}
	go func() {
		p.Refresh(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Refresh(ctx)
			}
		}
	}()
}

// Refresh reads the status now and caches it.
func (p *Poller) Refresh(ctx context.Context) Status {
	if p.fetch {
		if err := p.client.Fetch(ctx); err != nil {
			p.logger.Warn("git fetch failed", zap.Error(err))
		}
	}
	status, err := p.client.Status(ctx)
	if err != nil {
		status.Error = err.Error()
		p.logger.Warn("git status failed", zap.Error(err))
	}
	p.mu.Lock()
	p.last = status
	p.ok = true
	p.mu.Unlock()
	return status
}

// Last returns the cached status and whether one has been recorded.
func (p *Poller) Last() (Status, bool) {
	if p == nil {
		return Status{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.ok
}
