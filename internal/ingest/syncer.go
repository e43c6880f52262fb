// Package ingest drives region synchronization: it pulls raw record pages
// from the upstream service, normalizes each record, and writes the result
// through the store, keeping per-run counters in the sync log.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pasco78/store-api-project/internal/model"
	"github.com/pasco78/store-api-project/internal/normalize"
	"github.com/pasco78/store-api-project/internal/store"
	"github.com/pasco78/store-api-project/internal/upstream"
)

// Duplicate policies for records whose bizes_id already exists.
const (
	OnDuplicateError  = "error"  // count the collision and move on
	OnDuplicateUpsert = "upsert" // rewrite the existing row
)

// Fetcher is the page source the syncer pulls from.
type Fetcher interface {
	FetchPage(ctx context.Context, region upstream.RegionKey, pageNo, numOfRows int) ([]normalize.Record, error)
}

// Options tunes a sync run. Zero values fall back to service defaults.
type Options struct {
	PageSize    int    // rows per upstream page, capped at 1000 by the service
	MaxPages    int    // hard stop on pages per region, 0 means unbounded
	Concurrency int    // pages fetched in flight
	OnDuplicate string // OnDuplicateError or OnDuplicateUpsert
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = upstream.DefaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.OnDuplicate == "" {
		o.OnDuplicate = OnDuplicateError
	}
	return o
}

// Syncer ingests one region at a time.
type Syncer struct {
	fetcher Fetcher
	store   store.Store
	synclog SyncLog
	opts    Options
	log     *zap.Logger
}

func NewSyncer(f Fetcher, st store.Store, sl SyncLog, opts Options) *Syncer {
	return &Syncer{
		fetcher: f,
		store:   st,
		synclog: sl,
		opts:    opts.withDefaults(),
		log:     zap.L().With(zap.String("component", "ingest")),
	}
}

// SyncRegion pulls every page for the region and persists the records,
// stopping after limit records when limit is positive. Pages are fetched
// concurrently in batches but records are applied in page order, so reruns
// with the same data touch rows in a stable order. Per-record failures are
// counted, never fatal; the run fails only when the store or the context
// gives out.
func (s *Syncer) SyncRegion(ctx context.Context, region upstream.RegionKey, limit int) (*model.SyncSummary, error) {
	log := s.log.With(zap.String("div_id", region.DivID), zap.String("region", region.Code))

	runID, err := s.synclog.Start(ctx, region.DivID, region.Code)
	if err != nil {
		return nil, err
	}

	sum, err := s.syncPages(ctx, region, limit, log)
	if err != nil {
		if ferr := s.synclog.Fail(context.WithoutCancel(ctx), runID, err); ferr != nil {
			log.Warn("sync log fail mark failed", zap.Error(ferr))
		}
		return nil, err
	}
	if err := s.synclog.Complete(ctx, runID, *sum); err != nil {
		return nil, err
	}

	log.Info("region sync finished",
		zap.Int64("total_processed", sum.TotalProcessed),
		zap.Int64("created", sum.Created),
		zap.Int64("errors", sum.Errors),
	)
	return sum, nil
}

func (s *Syncer) syncPages(ctx context.Context, region upstream.RegionKey, limit int, log *zap.Logger) (*model.SyncSummary, error) {
	opts := s.opts
	sum := &model.SyncSummary{}
	nextPage := 1

	for {
		if opts.MaxPages > 0 && nextPage > opts.MaxPages {
			break
		}
		batch := opts.Concurrency
		if opts.MaxPages > 0 && nextPage+batch-1 > opts.MaxPages {
			batch = opts.MaxPages - nextPage + 1
		}

		pages := make([][]normalize.Record, batch)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i := 0; i < batch; i++ {
			g.Go(func() error {
				records, err := s.fetcher.FetchPage(gctx, region, nextPage+i, opts.PageSize)
				if err != nil {
					return err
				}
				pages[i] = records
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch pages for %s", region.Code)
		}

		done := false
		for _, records := range pages {
			if len(records) == 0 {
				done = true
				break
			}
			if err := s.applyPage(ctx, records, limit, sum, log); err != nil {
				return nil, err
			}
			if limit > 0 && sum.TotalProcessed >= int64(limit) {
				done = true
			}
			// A short page is the final one; later speculative pages
			// are discarded.
			if len(records) < opts.PageSize {
				done = true
			}
			if done {
				break
			}
		}
		if done {
			break
		}
		nextPage += batch
	}
	return sum, nil
}

func (s *Syncer) applyPage(ctx context.Context, records []normalize.Record, limit int, sum *model.SyncSummary, log *zap.Logger) error {
	for _, raw := range records {
		if limit > 0 && sum.TotalProcessed >= int64(limit) {
			return nil
		}
		sum.TotalProcessed++

		st, err := normalize.Normalize(raw)
		if err != nil {
			sum.Errors++
			log.Debug("record rejected", zap.Error(err))
			continue
		}

		switch s.opts.OnDuplicate {
		case OnDuplicateUpsert:
			err = s.store.Upsert(ctx, st)
		default:
			err = s.store.Create(ctx, st)
		}
		switch {
		case err == nil:
			sum.Created++
		case eris.Is(err, store.ErrDuplicate):
			sum.Errors++
			log.Debug("duplicate record", zap.String("bizes_id", st.BizesID))
		case eris.Is(err, store.ErrConstraint):
			// A record the database refuses is no different from one the
			// normalizer refuses; the rest of the batch proceeds.
			sum.Errors++
			log.Warn("record rejected by store", zap.String("bizes_id", st.BizesID), zap.Error(err))
		default:
			return eris.Wrapf(err, "ingest: persist record %s", st.BizesID)
		}
	}
	return nil
}
