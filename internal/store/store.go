// Package store persists normalized business records and answers the keyed,
// categorical, and bounding-box lookups the query engine is built on.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pasco78/store-api-project/internal/model"
)

// ErrNotFound marks a single-entity lookup with no match. The boundary
// layer decides how to signal it; the repository never invents a row.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicate marks an insert that collided with an existing bizes_id.
var ErrDuplicate = eris.New("store: duplicate bizes_id")

// ErrConstraint marks a write the database rejected for the record's own
// data, such as an overlong column value or a non-unique integrity
// violation. The record is skippable; the connection is healthy.
var ErrConstraint = eris.New("store: constraint violation")

// Page is a 1-based inclusive [Start, End] pagination window, the shape the
// upstream service uses for its own startIndex/endIndex parameters.
type Page struct {
	Start int
	End   int
}

// DefaultPage mirrors the upstream service default window of five rows.
var DefaultPage = Page{Start: 1, End: 5}

// Clamped returns the page with Start raised to 1. An inverted range stays
// inverted; callers treat it as an empty window.
func (p Page) Clamped() Page {
	if p.Start < 1 {
		p.Start = 1
	}
	return p
}

// Empty reports whether the window selects no rows.
func (p Page) Empty() bool {
	p = p.Clamped()
	return p.Start > p.End
}

// Limit is the maximum number of rows the window admits.
func (p Page) Limit() int {
	p = p.Clamped()
	return p.End - p.Start + 1
}

// Offset is the number of rows to skip before the window.
func (p Page) Offset() int {
	return p.Clamped().Start - 1
}

// Store is the persistence interface over business records. All list
// operations share the same pagination contract: an empty window yields an
// empty result without touching the database, never an error.
type Store interface {
	Create(ctx context.Context, s *model.Store) error
	Upsert(ctx context.Context, s *model.Store) error
	GetByBizesID(ctx context.Context, bizesID string) (*model.Store, error)

	ListByDong(ctx context.Context, adongCd string, page Page) ([]model.Store, error)
	ListByBuilding(ctx context.Context, bldMngNo string, page Page) ([]model.Store, error)
	ListByAddress(ctx context.Context, substr string, page Page) ([]model.Store, error)
	ListByDistrict(ctx context.Context, sggCd string, page Page) ([]model.Store, error)
	ListByBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Store, error)
	ListByCategory(ctx context.Context, lclsCd, mclsCd, sclsCd string, page Page) ([]model.Store, error)
	ListModifiedSince(ctx context.Context, since time.Time, page Page) ([]model.Store, error)
	ListAll(ctx context.Context, page Page) ([]model.Store, error)

	LargeCategories(ctx context.Context, page Page) ([]model.CategoryPair, error)
	MiddleCategories(ctx context.Context, lclsCd string, page Page) ([]model.CategoryPair, error)
	SmallCategories(ctx context.Context, lclsCd, mclsCd string, page Page) ([]model.CategoryPair, error)

	ZonesInBoundingBox(ctx context.Context, box model.BBox, page Page) ([]model.Zone, error)

	Count(ctx context.Context) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

// New creates a Store for the configured driver.
func New(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres", "":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", driver)
	}
}
