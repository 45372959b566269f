package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/announce-relay/internal/database"
	"github.com/rickgao/announce-relay/internal/model"
	"github.com/rickgao/announce-relay/internal/router"
)

// ErrDecode is returned by HandleData for payloads that are not announcements.
var ErrDecode = errors.New("announce: decode payload")

// Notifier delivers a fresh announcement.
type Notifier interface {
	Notify(ctx context.Context, a model.Announcement) error
}

// Config holds pipeline settings.
type Config struct {
	QueueSize  int // Initial queue capacity
	QueueLimit int // Hard limit, 0 = 64 x QueueSize
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{QueueSize: 1024}
}

// Stats contains pipeline counters.
type Stats struct {
	Received    int64
	DecodeFails int64
	Duplicates  int64
	Notified    int64
	Failures    int64 // Store or notifier errors
	Queue       QueueStats
}

// payload is the JSON document carried in a DATA frame.
type payload struct {
	CatalogID   int64  `json:"catalogId"`
	CatalogName string `json:"catalogName"`
	PublishDate int64  `json:"publishDate"` // Unix milliseconds
	Title       string `json:"title"`
	Body        string `json:"body"`
	Disclaimer  string `json:"disclaimer"`
}

// Pipeline deduplicates announcements and notifies on fresh ones.
type Pipeline struct {
	queue    *Queue[model.Announcement]
	store    database.SeenStore
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewPipeline creates a pipeline. It does nothing until Start.
func NewPipeline(cfg Config, store database.SeenStore, notifier Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = cfg.QueueSize * 64
	}
	return &Pipeline{
		queue:    NewQueue[model.Announcement](cfg.QueueSize, cfg.QueueLimit),
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleData decodes a stream payload and queues it. Frames that are not
// data payloads are ignored.
func (p *Pipeline) HandleData(_ context.Context, f router.Frame) error {
	if f.Kind != router.KindDataPayload {
		return nil
	}

	a, err := Decode(f.Data)
	if err != nil {
		p.count(func(s *Stats) { s.DecodeFails++ })
		return err
	}
	a.Topic = f.Topic
	a.Source = model.SourceStream
	a.ReceivedAt = model.ToMicros(f.ReceivedAt)
	return p.Submit(a)
}

// Decode parses an announcement document and computes its key.
func Decode(data string) (model.Announcement, error) {
	var pl payload
	if err := json.Unmarshal([]byte(data), &pl); err != nil {
		return model.Announcement{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if strings.TrimSpace(pl.Title) == "" {
		return model.Announcement{}, fmt.Errorf("%w: missing title", ErrDecode)
	}

	a := model.Announcement{
		CatalogID:   pl.CatalogID,
		CatalogName: pl.CatalogName,
		Title:       strings.TrimSpace(pl.Title),
		Body:        pl.Body,
		Disclaimer:  pl.Disclaimer,
		PublishedAt: model.ToMicros(time.UnixMilli(pl.PublishDate)),
	}
	a.SetKey()
	return a, nil
}

// Submit queues an announcement. It never blocks.
func (p *Pipeline) Submit(a model.Announcement) error {
	if a.Key == uuid.Nil {
		a.SetKey()
	}
	if err := p.queue.Push(a); err != nil {
		p.logger.Warn("dropping announcement", "title", a.Title, "error", err)
		return err
	}
	p.count(func(s *Stats) { s.Received++ })
	return nil
}

// Start launches the worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.worker()

	p.logger.Info("announcement pipeline started")
	return nil
}

// Stop closes the queue and waits for the worker to drain it or for ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.logger.Info("stopping announcement pipeline")
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("announcement pipeline stopped")
	case <-ctx.Done():
		p.logger.Warn("announcement pipeline stop timed out", "queued", p.queue.Len())
	}
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	s := p.stats
	p.mu.Unlock()
	s.Queue = p.queue.Stats()
	return s
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		a, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.process(p.ctx, a)
	}
}

// process handles one announcement. A key is marked before notifying, so a
// failed notification is not retried later.
func (p *Pipeline) process(ctx context.Context, a model.Announcement) {
	logger := p.logger.With("key", a.Key, "source", a.Source)

	fresh, err := p.store.MarkSeen(ctx, a)
	if err != nil {
		p.count(func(s *Stats) { s.Failures++ })
		logger.Error("seen store failed", "error", err)
		return
	}
	if !fresh {
		p.count(func(s *Stats) { s.Duplicates++ })
		logger.Debug("duplicate announcement", "title", a.Title)
		return
	}

	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, a); err != nil {
		p.count(func(s *Stats) { s.Failures++ })
		logger.Error("notify failed", "title", a.Title, "error", err)
		return
	}
	p.count(func(s *Stats) { s.Notified++ })
	logger.Info("announcement delivered", "title", a.Title, "catalog", a.CatalogName)
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
