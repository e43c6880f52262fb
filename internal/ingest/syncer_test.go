package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasco78/store-api-project/internal/model"
	"github.com/pasco78/store-api-project/internal/normalize"
	"github.com/pasco78/store-api-project/internal/store"
	"github.com/pasco78/store-api-project/internal/upstream"
)

type fetchFunc func(ctx context.Context, region upstream.RegionKey, pageNo, numOfRows int) ([]normalize.Record, error)

func (f fetchFunc) FetchPage(ctx context.Context, region upstream.RegionKey, pageNo, numOfRows int) ([]normalize.Record, error) {
	return f(ctx, region, pageNo, numOfRows)
}

// pagedFetcher serves a fixed record sequence page by page, the way the
// upstream service does.
func pagedFetcher(records []normalize.Record) fetchFunc {
	return func(_ context.Context, _ upstream.RegionKey, pageNo, numOfRows int) ([]normalize.Record, error) {
		start := (pageNo - 1) * numOfRows
		if start >= len(records) {
			return nil, nil
		}
		end := start + numOfRows
		if end > len(records) {
			end = len(records)
		}
		return records[start:end], nil
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestSyncer(t *testing.T, f Fetcher, opts Options) (*Syncer, *store.SQLiteStore, SyncLog) {
	t.Helper()
	st := newTestStore(t)
	sl, err := NewSyncLog(st)
	require.NoError(t, err)
	return NewSyncer(f, st, sl, opts), st, sl
}

func TestSyncer_RegionScenario(t *testing.T) {
	// Ten raw records: two rejected by normalization, one duplicate, and
	// one with a bad longitude that still keeps its latitude.
	records := []normalize.Record{
		{"bizesId": "s-1", "bizesNm": "가게 하나", "lon": "127.001", "lat": "37.501"},
		{"bizesId": "s-2", "lon": "not-a-number", "lat": "37.502"},
		{"bizesNm": "no identifier"},
		{"bizesId": "s-3"},
		{"bizesId": "s-4", "indsLclsCd": "Q"},
		{"bizesId": "   "},
		{"bizesId": "s-5"},
		{"bizesId": "s-1", "bizesNm": "가게 하나 (again)"},
		{"bizesId": "s-6"},
		{"bizesId": "s-7"},
	}

	syncer, st, sl := newTestSyncer(t, pagedFetcher(records), Options{PageSize: 4})
	ctx := context.Background()

	sum, err := syncer.SyncRegion(ctx, upstream.ByDistrict("11110"), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(10), sum.TotalProcessed)
	assert.Equal(t, int64(7), sum.Created)
	assert.Equal(t, int64(3), sum.Errors)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	partial, err := st.GetByBizesID(ctx, "s-2")
	require.NoError(t, err)
	assert.Nil(t, partial.Lon)
	require.NotNil(t, partial.Lat)
	assert.InDelta(t, 37.502, *partial.Lat, 1e-9)

	first, err := st.GetByBizesID(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, first.BizesNm)
	assert.Equal(t, "가게 하나", *first.BizesNm, "the duplicate does not overwrite the first write")

	runs, err := sl.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, "signguCd", runs[0].DivID)
	assert.Equal(t, "11110", runs[0].Region)
	assert.Equal(t, int64(10), runs[0].Total)
	assert.Equal(t, int64(7), runs[0].Created)
	assert.Equal(t, int64(3), runs[0].Errors)
	assert.NotNil(t, runs[0].CompletedAt)

	last, err := sl.LastSuccess(ctx, "11110")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, runs[0].ID, last.ID)

	none, err := sl.LastSuccess(ctx, "99999")
	require.NoError(t, err)
	assert.Nil(t, none)
}

// rejectingStore fails Create for one record the way a driver reports a
// column value its schema cannot hold.
type rejectingStore struct {
	*store.SQLiteStore
	rejectID string
}

func (s *rejectingStore) Create(ctx context.Context, st *model.Store) error {
	if st.BizesID == s.rejectID {
		return eris.Wrapf(store.ErrConstraint,
			"insert store %s: value too long for type character varying(20)", st.BizesID)
	}
	return s.SQLiteStore.Create(ctx, st)
}

func TestSyncer_ConstraintViolationSkipsRecord(t *testing.T) {
	records := []normalize.Record{
		{"bizesId": "s-1"},
		{"bizesId": "too-long-tel"},
		{"bizesId": "s-3"},
	}

	base := newTestStore(t)
	sl, err := NewSyncLog(base)
	require.NoError(t, err)
	syncer := NewSyncer(pagedFetcher(records), &rejectingStore{SQLiteStore: base, rejectID: "too-long-tel"}, sl, Options{})
	ctx := context.Background()

	sum, err := syncer.SyncRegion(ctx, upstream.ByDistrict("11110"), 0)
	require.NoError(t, err, "one bad record never blocks the rest")

	assert.Equal(t, int64(3), sum.TotalProcessed)
	assert.Equal(t, int64(2), sum.Created)
	assert.Equal(t, int64(1), sum.Errors)

	_, err = base.GetByBizesID(ctx, "s-3")
	assert.NoError(t, err, "records after the rejected one are persisted")

	runs, err := sl.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, int64(1), runs[0].Errors)
}

func TestSyncer_UpsertPolicyRewritesDuplicates(t *testing.T) {
	records := []normalize.Record{
		{"bizesId": "s-1", "bizesNm": "first"},
		{"bizesId": "s-1", "bizesNm": "second"},
	}
	syncer, st, _ := newTestSyncer(t, pagedFetcher(records), Options{OnDuplicate: OnDuplicateUpsert})
	ctx := context.Background()

	sum, err := syncer.SyncRegion(ctx, upstream.ByDong("1111051500"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.TotalProcessed)
	assert.Equal(t, int64(2), sum.Created)
	assert.Equal(t, int64(0), sum.Errors)

	got, err := st.GetByBizesID(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got.BizesNm)
	assert.Equal(t, "second", *got.BizesNm)
}

func TestSyncer_LimitTruncates(t *testing.T) {
	var records []normalize.Record
	for i := 0; i < 20; i++ {
		records = append(records, normalize.Record{"bizesId": fmt.Sprintf("s-%d", i)})
	}
	syncer, st, _ := newTestSyncer(t, pagedFetcher(records), Options{PageSize: 6})

	sum, err := syncer.SyncRegion(context.Background(), upstream.ByDistrict("11110"), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.TotalProcessed)
	assert.Equal(t, int64(10), sum.Created)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestSyncer_MaxPagesBoundsTheRun(t *testing.T) {
	var records []normalize.Record
	for i := 0; i < 30; i++ {
		records = append(records, normalize.Record{"bizesId": fmt.Sprintf("s-%d", i)})
	}
	syncer, _, _ := newTestSyncer(t, pagedFetcher(records), Options{PageSize: 5, MaxPages: 2})

	sum, err := syncer.SyncRegion(context.Background(), upstream.ByDistrict("11110"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.TotalProcessed)
}

func TestSyncer_EmptyFirstPage(t *testing.T) {
	syncer, _, sl := newTestSyncer(t, pagedFetcher(nil), Options{})

	sum, err := syncer.SyncRegion(context.Background(), upstream.ByDistrict("99999"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.TotalProcessed)

	runs, err := sl.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
}

func TestSyncer_FetchFailureMarksRunFailed(t *testing.T) {
	boom := fetchFunc(func(context.Context, upstream.RegionKey, int, int) ([]normalize.Record, error) {
		return nil, eris.New("context torn down")
	})
	syncer, _, sl := newTestSyncer(t, boom, Options{})

	_, err := syncer.SyncRegion(context.Background(), upstream.ByDistrict("11110"), 0)
	require.Error(t, err)

	runs, err := sl.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "torn down")

	last, err := sl.LastSuccess(context.Background(), "11110")
	require.NoError(t, err)
	assert.Nil(t, last, "a failed run is not a success marker")
}
