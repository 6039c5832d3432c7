// Package refresher keeps each language's recent catalog warm in the cache.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/metrics"
	"github.com/JakeFAU/einthusan-addon/internal/site"
)

// Defaults applied by New.
const (
	DefaultPages               = 10
	DefaultIncrementalPages    = 2
	DefaultFullInterval        = 12 * time.Hour
	DefaultIncrementalInterval = time.Hour
	DefaultCatalogTTL          = 24 * time.Hour
	DefaultPageConcurrency     = 4
	DefaultTopic               = "catalog-refresh"
)

// ErrNoPages is returned when every page of a sweep failed.
var ErrNoPages = errors.New("no page of the sweep succeeded")

// Pages is the site surface the refresher drives.
type Pages interface {
	Languages() []string
	RecentPage(ctx context.Context, lang string, page int) ([]catalog.MovieRecord, error)
	Recent(ctx context.Context, lang string) ([]catalog.MovieRecord, bool)
	StoreRecent(ctx context.Context, lang string, records []catalog.MovieRecord, ttl time.Duration) error
}

// Upgrader swaps fallback ids for cross-reference ids.
type Upgrader interface {
	Upgrade(ctx context.Context, records []catalog.MovieRecord, lang string) []catalog.MovieRecord
}

// Config tunes sweeps and the schedule.
type Config struct {
	Pages               int
	IncrementalPages    int
	PageConcurrency     int
	FullInterval        time.Duration
	IncrementalInterval time.Duration
	CatalogTTL          time.Duration
	OnStart             bool
	ReverseLookup       bool
	Topic               string
}

// Deps are the refresher's collaborators. Upgrader, Runs and Publisher may be nil.
type Deps struct {
	Pages     Pages
	Upgrader  Upgrader
	Runs      catalog.RunStore
	Publisher catalog.Publisher
	Clock     catalog.Clock
	IDs       catalog.IDGenerator
}

// Stats summarizes one sweep.
type Stats struct {
	Pages       int
	FailedPages int
	Records     int
	NewRecords  int
}

// Refresher sweeps recent listings per language and caches the merged result.
type Refresher struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	group singleflight.Group
	warm  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Refresher.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Refresher, error) {
	if deps.Pages == nil {
		return nil, errors.New("refresher: pages source is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("refresher: clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("refresher: id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pages <= 0 {
		cfg.Pages = DefaultPages
	}
	if cfg.IncrementalPages <= 0 {
		cfg.IncrementalPages = DefaultIncrementalPages
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = DefaultPageConcurrency
	}
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = DefaultFullInterval
	}
	if cfg.IncrementalInterval <= 0 {
		cfg.IncrementalInterval = DefaultIncrementalInterval
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = DefaultCatalogTTL
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Refresher{deps: deps, cfg: cfg, logger: logger.Named("refresher")}, nil
}

// Warm reports whether any language run has stored a catalog.
func (r *Refresher) Warm() bool {
	return r.warm.Load()
}

// Sweep fetches pages 1..pages of lang's recent listing and merges them by
// site id, first occurrence wins. Failed pages are skipped.
func (r *Refresher) Sweep(ctx context.Context, lang string, pages int) ([]catalog.MovieRecord, Stats, error) {
	if pages <= 0 {
		pages = r.cfg.Pages
	}
	results := make([][]catalog.MovieRecord, pages)
	failed := make([]bool, pages)

	var g errgroup.Group
	g.SetLimit(r.cfg.PageConcurrency)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					failed[i] = true
					r.logger.Error("page task panicked", zap.String("lang", lang), zap.Int("page", i+1), zap.Any("panic", rec))
				}
			}()
			records, err := r.deps.Pages.RecentPage(ctx, lang, i+1)
			if err != nil {
				failed[i] = true
				r.logger.Warn("page fetch failed", zap.String("lang", lang), zap.Int("page", i+1), zap.Error(err))
				return nil
			}
			if r.cfg.ReverseLookup && r.deps.Upgrader != nil {
				records = r.deps.Upgrader.Upgrade(ctx, records, lang)
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{Pages: pages}
	for _, f := range failed {
		if f {
			stats.FailedPages++
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("sweep %s: %w", lang, err)
	}
	if stats.FailedPages == pages {
		return nil, stats, fmt.Errorf("sweep %s: %w", lang, ErrNoPages)
	}
	merged := Merge(results...)
	stats.Records = len(merged)
	stats.NewRecords = len(merged)
	return merged, stats, nil
}

// Incremental refetches the first pages and prepends records the cached
// catalog lacks. Without a cached catalog it runs a full sweep.
func (r *Refresher) Incremental(ctx context.Context, lang string) ([]catalog.MovieRecord, Stats, error) {
	previous, ok := r.deps.Pages.Recent(ctx, lang)
	if !ok {
		return r.Sweep(ctx, lang, r.cfg.Pages)
	}
	fresh, stats, err := r.Sweep(ctx, lang, r.cfg.IncrementalPages)
	if err != nil {
		return nil, stats, err
	}
	merged, added := Prepend(previous, fresh)
	stats.Records = len(merged)
	stats.NewRecords = added
	return merged, stats, nil
}

// Merge concatenates pages in order, dropping repeated site ids.
func Merge(pages ...[]catalog.MovieRecord) []catalog.MovieRecord {
	seen := make(map[string]struct{})
	out := make([]catalog.MovieRecord, 0)
	for _, page := range pages {
		for _, rec := range page {
			if _, dup := seen[rec.SiteID]; dup {
				continue
			}
			seen[rec.SiteID] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// Prepend puts the fresh records previous lacks ahead of previous and reports how many were added.
func Prepend(previous, fresh []catalog.MovieRecord) ([]catalog.MovieRecord, int) {
	known := make(map[string]struct{}, len(previous))
	for _, rec := range previous {
		known[rec.SiteID] = struct{}{}
	}
	added := make([]catalog.MovieRecord, 0)
	for _, rec := range Merge(fresh) {
		if _, ok := known[rec.SiteID]; !ok {
			added = append(added, rec)
		}
	}
	return append(added, previous...), len(added)
}

// Ensure returns lang's cached catalog, sweeping once when it is cold.
// Concurrent cold callers share the sweep.
func (r *Refresher) Ensure(ctx context.Context, lang string, pages int) ([]catalog.MovieRecord, error) {
	if records, ok := r.deps.Pages.Recent(ctx, lang); ok {
		return records, nil
	}
	v, err, _ := r.group.Do(lang, func() (any, error) {
		run, records, err := r.run(ctx, lang, catalog.RefreshFull, pages)
		if err != nil {
			return nil, err
		}
		r.logger.Info("cold catalog warmed", zap.String("lang", lang), zap.Int("records", run.Records))
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	records, _ := v.([]catalog.MovieRecord)
	return records, nil
}

// Run refreshes one language and returns its run summary.
func (r *Refresher) Run(ctx context.Context, lang string, mode catalog.RefreshMode) (catalog.RefreshRun, error) {
	run, _, err := r.run(ctx, lang, mode, r.cfg.Pages)
	return run, err
}

// RunAll refreshes every configured language on its own task. A failure or
// panic in one language does not affect the others.
func (r *Refresher) RunAll(ctx context.Context, mode catalog.RefreshMode) ([]catalog.RefreshRun, error) {
	langs := r.deps.Pages.Languages()
	var (
		mu   sync.Mutex
		runs = make([]catalog.RefreshRun, 0, len(langs))
	)
	p := pool.New().WithMaxGoroutines(max(1, len(langs))).WithErrors().WithContext(ctx)
	for _, lang := range langs {
		p.Go(func(ctx context.Context) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("refresh %s panicked: %v", lang, rec)
					r.logger.Error("refresh panicked", zap.String("lang", lang), zap.Any("panic", rec))
				}
			}()
			run, runErr := r.Run(ctx, lang, mode)
			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
			return runErr
		})
	}
	err := p.Wait()
	return runs, err
}

func (r *Refresher) run(ctx context.Context, lang string, mode catalog.RefreshMode, pages int) (catalog.RefreshRun, []catalog.MovieRecord, error) {
	ctx, span := otel.Tracer("refresher").Start(ctx, "refresh.run")
	defer span.End()
	span.SetAttributes(attribute.String("language", lang), attribute.String("mode", string(mode)))

	started := r.deps.Clock.Now()
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return catalog.RefreshRun{}, nil, fmt.Errorf("run id: %w", err)
	}
	var (
		records []catalog.MovieRecord
		stats   Stats
	)
	switch mode {
	case catalog.RefreshIncremental:
		records, stats, err = r.Incremental(ctx, lang)
	default:
		mode = catalog.RefreshFull
		previous, hadPrevious := r.deps.Pages.Recent(ctx, lang)
		records, stats, err = r.Sweep(ctx, lang, pages)
		if err == nil && hadPrevious {
			_, stats.NewRecords = Prepend(previous, records)
		}
	}
	if err == nil {
		if serr := r.deps.Pages.StoreRecent(ctx, lang, records, r.cfg.CatalogTTL); serr != nil {
			err = fmt.Errorf("store catalog %s: %w", lang, serr)
		} else {
			r.warm.Store(true)
		}
	}

	run := catalog.RefreshRun{
		ID:          id,
		Language:    lang,
		Mode:        mode,
		Status:      catalog.RunSuccess,
		Pages:       stats.Pages,
		FailedPages: stats.FailedPages,
		Records:     stats.Records,
		NewRecords:  stats.NewRecords,
		StartedAt:   started,
		FinishedAt:  r.deps.Clock.Now(),
	}
	switch {
	case err != nil:
		run.Status = catalog.RunError
		run.Error = err.Error()
	case stats.FailedPages > 0:
		run.Status = catalog.RunPartial
	}
	metrics.ObserveRefresh(lang, string(mode), string(run.Status), run.Records, run.FinishedAt.Sub(started))
	span.SetAttributes(attribute.Int("records", run.Records), attribute.Int("failed_pages", run.FailedPages))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, run.Error)
	}
	r.report(ctx, run)

	logger := r.logger.With(
		zap.String("run_id", run.ID),
		zap.String("lang", lang),
		zap.String("mode", string(mode)),
		zap.String("status", string(run.Status)),
		zap.Int("records", run.Records),
		zap.Int("new_records", run.NewRecords),
		zap.Int("failed_pages", run.FailedPages),
	)
	if err != nil {
		logger.Warn("refresh run failed", zap.Error(err))
		return run, nil, err
	}
	logger.Info("refresh run finished")
	return run, records, nil
}

// report writes the run log and event. Both are best effort.
func (r *Refresher) report(ctx context.Context, run catalog.RefreshRun) {
	ctx = context.WithoutCancel(ctx)
	if r.deps.Runs != nil {
		if err := r.deps.Runs.RecordRun(ctx, run); err != nil {
			r.logger.Warn("record refresh run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if r.deps.Publisher != nil {
		event := catalog.RefreshEvent{RefreshRun: run, CatalogKey: site.RecentKey(run.Language)}
		if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
			r.logger.Warn("publish refresh event", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

// Start launches the schedule in the background. Calling Start twice is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the schedule and waits for the in-flight run to return.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop refresher: %w", ctx.Err())
	}
}

func (r *Refresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if r.cfg.OnStart {
		r.runAllLogged(ctx, catalog.RefreshFull)
	}
	full := time.NewTicker(r.cfg.FullInterval)
	defer full.Stop()
	incremental := time.NewTicker(r.cfg.IncrementalInterval)
	defer incremental.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			r.runAllLogged(ctx, catalog.RefreshFull)
		case <-incremental.C:
			r.runAllLogged(ctx, catalog.RefreshIncremental)
		}
	}
}

func (r *Refresher) runAllLogged(ctx context.Context, mode catalog.RefreshMode) {
	runs, err := r.RunAll(ctx, mode)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("refresh cycle had failures", zap.String("mode", string(mode)), zap.Int("runs", len(runs)), zap.Error(err))
	}
}
