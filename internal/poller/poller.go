package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/announce-relay/internal/api"
	"github.com/rickgao/announce-relay/internal/model"
)

// Lister fetches one catalog listing. *api.Client implements it.
type Lister interface {
	ListAnnouncements(ctx context.Context, catalogID, pageSize int) (*api.Catalog, error)
}

// Sink receives polled announcements.
type Sink interface {
	Submit(a model.Announcement) error
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 5m)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
	CatalogIDs  []int
	PageSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
		CatalogIDs:  []int{48, 161},
		PageSize:    20,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles    int64
	Fetched   int64 // Catalog requests that succeeded
	Errors    int64
	Submitted int64
	LastPoll  time.Time
}

// Poller periodically lists announcement catalogs over REST.
type Poller struct {
	cfg    Config
	client Lister
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles    atomic.Int64
	fetched   atomic.Int64
	errors    atomic.Int64
	submitted atomic.Int64
	lastPoll  atomic.Int64 // µs
}

// New creates a new Poller.
func New(cfg Config, client Lister, sink Sink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	return &Poller{
		cfg:    cfg,
		client: client,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("announcement poller started",
		"interval", p.cfg.Interval,
		"catalogs", p.cfg.CatalogIDs,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("announcement poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:    p.cycles.Load(),
		Fetched:   p.fetched.Load(),
		Errors:    p.errors.Load(),
		Submitted: p.submitted.Load(),
	}
	if us := p.lastPoll.Load(); us > 0 {
		s.LastPoll = model.FromMicros(us)
	}
	return s
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(p.ctx)
		}
	}
}

// pollAll lists every catalog with bounded concurrency. A failed catalog
// does not stop the others.
func (p *Poller) pollAll(ctx context.Context) {
	start := p.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, id := range p.cfg.CatalogIDs {
		g.Go(func() error {
			n, err := p.pollCatalog(gctx, id)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("failed to poll catalog", "catalog_id", id, "error", err)
				}
				p.errors.Add(1)
				return nil
			}
			p.fetched.Add(1)
			p.submitted.Add(int64(n))
			return nil
		})
	}
	g.Wait()

	p.cycles.Add(1)
	p.lastPoll.Store(model.ToMicros(start))

	p.logger.Debug("poll cycle complete",
		"catalogs", len(p.cfg.CatalogIDs),
		"submitted", p.submitted.Load(),
		"errors", p.errors.Load(),
		"duration", time.Since(start),
	)
}

// pollCatalog fetches one listing and submits its articles. It returns the
// number submitted.
func (p *Poller) pollCatalog(ctx context.Context, catalogID int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cat, err := p.client.ListAnnouncements(ctx, catalogID, p.cfg.PageSize)
	if err != nil {
		return 0, err
	}

	received := model.ToMicros(p.now())
	n := 0
	for _, art := range cat.Articles {
		a := toAnnouncement(cat, art, received)
		if err := p.sink.Submit(a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func toAnnouncement(cat *api.Catalog, art api.Article, receivedAt int64) model.Announcement {
	a := model.Announcement{
		CatalogID:   cat.CatalogID,
		CatalogName: cat.CatalogName,
		Title:       strings.TrimSpace(art.Title),
		Code:        art.Code,
		PublishedAt: model.ToMicros(art.ReleasedAt()),
		ReceivedAt:  receivedAt,
		Source:      model.SourceREST,
	}
	a.SetKey()
	return a
}
