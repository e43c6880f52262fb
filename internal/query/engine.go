// Package query turns the service's spatial and categorical lookups into
// repository calls. Spatial predicates are deliberately approximate: every
// shape is reduced to an axis-aligned bounding box before it reaches SQL,
// which keeps the repository on plain range indexes.
package query

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/pasco78/store-api-project/internal/model"
	"github.com/pasco78/store-api-project/internal/store"
)

// metersPerDegreeLat is the flat-earth scale used to convert a radius in
// meters to a latitude span. Longitude spans shrink by cos(lat).
const metersPerDegreeLat = 111000.0

// Result is a page of store rows plus the row count for that page.
type Result struct {
	TotalCount int           `json:"totalCount"`
	Rows       []model.Store `json:"rows"`
}

// CategoryResult is a page of deduplicated category code/name pairs.
type CategoryResult struct {
	TotalCount int                  `json:"totalCount"`
	Rows       []model.CategoryPair `json:"rows"`
}

// ZoneResult is a page of per-district aggregates.
type ZoneResult struct {
	TotalCount int          `json:"totalCount"`
	Rows       []model.Zone `json:"rows"`
}

// Engine answers read queries over a Store. Malformed geometry and
// out-of-range inputs degrade to empty results rather than errors; only
// repository failures propagate.
type Engine struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store) *Engine {
	return &Engine{
		store: s,
		log:   zap.L().With(zap.String("component", "query")),
	}
}

func storeResult(rows []model.Store, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.Store{}
	}
	return &Result{TotalCount: len(rows), Rows: rows}, nil
}

func emptyResult() *Result {
	return &Result{Rows: []model.Store{}}
}

// One looks up a single store by its business identifier. A miss is an
// empty result, not an error.
func (e *Engine) One(ctx context.Context, bizesID string, page store.Page) (*Result, error) {
	st, err := e.store.GetByBizesID(ctx, bizesID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return emptyResult(), nil
		}
		return nil, eris.Wrapf(err, "query: store %s", bizesID)
	}
	if page.Empty() || page.Offset() > 0 {
		return emptyResult(), nil
	}
	return storeResult([]model.Store{*st}, nil)
}

// ModifyInfo reports the current row for a business identifier, the shape
// the change-lookup endpoint serves.
func (e *Engine) ModifyInfo(ctx context.Context, bizesID string, page store.Page) (*Result, error) {
	return e.One(ctx, bizesID, page)
}

func (e *Engine) InDong(ctx context.Context, adongCd string, page store.Page) (*Result, error) {
	return storeResult(e.store.ListByDong(ctx, adongCd, page))
}

func (e *Engine) InBuilding(ctx context.Context, bldMngNo string, page store.Page) (*Result, error) {
	return storeResult(e.store.ListByBuilding(ctx, bldMngNo, page))
}

func (e *Engine) ByAddress(ctx context.Context, addr string, page store.Page) (*Result, error) {
	return storeResult(e.store.ListByAddress(ctx, addr, page))
}

// InArea maps a trading-area number onto its containing district: the first
// five digits of a trarNo are the sgg code. Shorter inputs match nothing.
func (e *Engine) InArea(ctx context.Context, trarNo string, page store.Page) (*Result, error) {
	trarNo = strings.TrimSpace(trarNo)
	if len(trarNo) < 5 {
		return emptyResult(), nil
	}
	return storeResult(e.store.ListByDistrict(ctx, trarNo[:5], page))
}

// InRectangle returns stores inside the inclusive box spanned by the two
// corners, in either corner order.
func (e *Engine) InRectangle(ctx context.Context, minLon, minLat, maxLon, maxLat float64, page store.Page) (*Result, error) {
	box := model.BBox{
		MinLon: math.Min(minLon, maxLon),
		MinLat: math.Min(minLat, maxLat),
		MaxLon: math.Max(minLon, maxLon),
		MaxLat: math.Max(minLat, maxLat),
	}
	return storeResult(e.store.ListByBoundingBox(ctx, box, page))
}

// InRadius approximates a circle of radius meters around (cx, cy) by its
// circumscribing bounding box, so every store within the true circle is in
// the result. A non-positive radius matches nothing.
func (e *Engine) InRadius(ctx context.Context, cx, cy, radius float64, page store.Page) (*Result, error) {
	if radius <= 0 {
		return emptyResult(), nil
	}
	cos := math.Cos(cy * math.Pi / 180)
	// At or beyond the poles the fixed-latitude approximation has no
	// usable longitude span.
	if cos < 1e-9 {
		return emptyResult(), nil
	}
	latRange := radius / metersPerDegreeLat
	lonRange := radius / (metersPerDegreeLat * cos)
	box := model.BBox{
		MinLon: cx - lonRange,
		MinLat: cy - latRange,
		MaxLon: cx + lonRange,
		MaxLat: cy + latRange,
	}
	return storeResult(e.store.ListByBoundingBox(ctx, box, page))
}

// InPolygon approximates a polygon given as a flat "lon,lat,lon,lat,..."
// string by its bounding box. Degenerate input (fewer than three vertices,
// an odd coordinate count, or a non-numeric token) matches nothing.
func (e *Engine) InPolygon(ctx context.Context, polygon string, page store.Page) (*Result, error) {
	ring, ok := parseRing(polygon)
	if !ok {
		e.log.Debug("degenerate polygon", zap.String("polygon", polygon))
		return emptyResult(), nil
	}
	bounds := geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)}).Bounds()
	box := model.BBox{
		MinLon: bounds.Min(0),
		MinLat: bounds.Min(1),
		MaxLon: bounds.Max(0),
		MaxLat: bounds.Max(1),
	}
	return storeResult(e.store.ListByBoundingBox(ctx, box, page))
}

// parseRing reads a flat coordinate string into an XY slice, closing the
// ring if the input leaves it open.
func parseRing(s string) ([]float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 6 || len(parts)%2 != 0 {
		return nil, false
	}
	flat := make([]float64, 0, len(parts)+2)
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		flat = append(flat, v)
	}
	if flat[0] != flat[len(flat)-2] || flat[1] != flat[len(flat)-1] {
		flat = append(flat, flat[0], flat[1])
	}
	return flat, true
}

// ByCategory filters by any combination of large, middle, and small
// industry codes. Empty codes are unconstrained.
func (e *Engine) ByCategory(ctx context.Context, lclsCd, mclsCd, sclsCd string, page store.Page) (*Result, error) {
	return storeResult(e.store.ListByCategory(ctx, lclsCd, mclsCd, sclsCd, page))
}

// ByDate lists stores touched since the given day, accepted as YYYYMMDD or
// YYYY-MM-DD. An unparsable date degrades to the unfiltered listing.
func (e *Engine) ByDate(ctx context.Context, date string, page store.Page) (*Result, error) {
	since, ok := parseDay(date)
	if !ok {
		e.log.Debug("unparsable date, listing all", zap.String("date", date))
		return storeResult(e.store.ListAll(ctx, page))
	}
	return storeResult(e.store.ListModifiedSince(ctx, since, page))
}

func parseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func categoryResult(rows []model.CategoryPair, err error) (*CategoryResult, error) {
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.CategoryPair{}
	}
	return &CategoryResult{TotalCount: len(rows), Rows: rows}, nil
}

// LargeCategories lists the distinct top-level industry codes in use.
func (e *Engine) LargeCategories(ctx context.Context, page store.Page) (*CategoryResult, error) {
	return categoryResult(e.store.LargeCategories(ctx, page))
}

// MiddleCategories lists the distinct middle codes under a large code. A
// missing scope code matches nothing.
func (e *Engine) MiddleCategories(ctx context.Context, lclsCd string, page store.Page) (*CategoryResult, error) {
	if strings.TrimSpace(lclsCd) == "" {
		return &CategoryResult{Rows: []model.CategoryPair{}}, nil
	}
	return categoryResult(e.store.MiddleCategories(ctx, lclsCd, page))
}

// SmallCategories lists the distinct small codes under a large and middle
// code pair. Missing scope codes match nothing.
func (e *Engine) SmallCategories(ctx context.Context, lclsCd, mclsCd string, page store.Page) (*CategoryResult, error) {
	if strings.TrimSpace(lclsCd) == "" || strings.TrimSpace(mclsCd) == "" {
		return &CategoryResult{Rows: []model.CategoryPair{}}, nil
	}
	return categoryResult(e.store.SmallCategories(ctx, lclsCd, mclsCd, page))
}

// ZonesInRectangle aggregates stores in the box by district.
func (e *Engine) ZonesInRectangle(ctx context.Context, minLon, minLat, maxLon, maxLat float64, page store.Page) (*ZoneResult, error) {
	box := model.BBox{
		MinLon: math.Min(minLon, maxLon),
		MinLat: math.Min(minLat, maxLat),
		MaxLon: math.Max(minLon, maxLon),
		MaxLat: math.Max(minLat, maxLat),
	}
	rows, err := e.store.ZonesInBoundingBox(ctx, box, page)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.Zone{}
	}
	return &ZoneResult{TotalCount: len(rows), Rows: rows}, nil
}
