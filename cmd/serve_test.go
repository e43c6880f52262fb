package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasco78/store-api-project/internal/model"
	"github.com/pasco78/store-api-project/internal/query"
	"github.com/pasco78/store-api-project/internal/store"
)

type envelope struct {
	TotalCount int              `json:"totalCount"`
	Rows       []map[string]any `json:"rows"`
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	srv := httptest.NewServer(newRouter(query.New(st)))
	t.Cleanup(srv.Close)
	return srv, st
}

func seedServer(t *testing.T, st store.Store, bizesID string, mutate func(*model.Store)) {
	t.Helper()
	s := &model.Store{BizesID: bizesID}
	if mutate != nil {
		mutate(s)
	}
	require.NoError(t, st.Create(context.Background(), s))
}

func getEnvelope(t *testing.T, url string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestServe_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_RectangleScenario(t *testing.T) {
	srv, st := newTestServer(t)

	coords := func(lon, lat float64) func(*model.Store) {
		return func(s *model.Store) { s.Lon, s.Lat = &lon, &lat }
	}
	seedServer(t, st, "inside", coords(126.95, 37.55))
	seedServer(t, st, "outside", coords(127.5, 36.0))

	status, env := getEnvelope(t, srv.URL+
		"/storeListInRectangle?minx=126.9&miny=37.5&maxx=127.0&maxy=37.6&startIndex=1&endIndex=100")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, env.TotalCount)
	require.Len(t, env.Rows, 1)
	assert.Equal(t, "inside", env.Rows[0]["bizesId"])
}

func TestServe_RectangleMissingParam(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/storeListInRectangle?minx=126.9&miny=37.5&maxx=127.0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_StoreOne(t *testing.T) {
	srv, st := newTestServer(t)
	seedServer(t, st, "exists", nil)

	status, env := getEnvelope(t, srv.URL+"/storeOne?bizesId=exists")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, env.TotalCount)

	resp, err := http.Get(srv.URL + "/storeOne?bizesId=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/storeOne")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_PolygonDegenerateIsEmptyOK(t *testing.T) {
	srv, st := newTestServer(t)
	seedServer(t, st, "any", func(s *model.Store) {
		lon, lat := 126.95, 37.55
		s.Lon, s.Lat = &lon, &lat
	})

	status, env := getEnvelope(t, srv.URL+"/storeListInPolygon?key=126.9,37.5,127.0")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.TotalCount)
	assert.NotNil(t, env.Rows)
}

func TestServe_Upjong(t *testing.T) {
	srv, st := newTestServer(t)
	seedServer(t, st, "korean", func(s *model.Store) {
		l, m := "Q", "Q01"
		s.IndsLclsCd, s.IndsMclsCd = &l, &m
	})
	seedServer(t, st, "chinese", func(s *model.Store) {
		l, m := "Q", "Q02"
		s.IndsLclsCd, s.IndsMclsCd = &l, &m
	})

	status, env := getEnvelope(t, srv.URL+"/storeListInUpjong?indsLclsCd=Q")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, env.TotalCount)

	status, env = getEnvelope(t, srv.URL+"/storeListInUpjong?indsLclsCd=Q&indsMclsCd=Q01")
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, env.TotalCount, "the medium code narrows the large one")
	assert.Equal(t, "korean", env.Rows[0]["bizesId"])

	status, env = getEnvelope(t, srv.URL+"/storeListInUpjong?indsLclsCd=Q&indsMclsCd=Q01&indsSclsCd=Q0101")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.TotalCount)

	resp, err := http.Get(srv.URL + "/storeListInUpjong?indsMclsCd=Q01")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "the large code is always required")
}

func TestServe_CategoryLists(t *testing.T) {
	srv, st := newTestServer(t)
	seedServer(t, st, "1", func(s *model.Store) {
		l, ln, m, mn := "Q", "음식", "Q01", "한식"
		s.IndsLclsCd, s.IndsLclsNm, s.IndsMclsCd, s.IndsMclsNm = &l, &ln, &m, &mn
	})

	status, env := getEnvelope(t, srv.URL+"/largeUpjongList")
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, env.TotalCount)
	assert.Equal(t, "Q", env.Rows[0]["code"])

	status, env = getEnvelope(t, srv.URL+"/middleUpjongList?indsLclsCd=Q")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, env.TotalCount)

	resp, err := http.Get(srv.URL + "/middleUpjongList")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/smallUpjongList?indsLclsCd=Q")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_PaginationDefaultsAndBadIndex(t *testing.T) {
	srv, st := newTestServer(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		seedServer(t, st, id, func(s *model.Store) {
			cd := "11110"
			s.AdongCd = &cd
		})
	}

	// Default window is the first five rows.
	status, env := getEnvelope(t, srv.URL+"/storeListInDong?key=11110")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, env.TotalCount)

	resp, err := http.Get(srv.URL + "/storeListInDong?key=11110&startIndex=x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Inverted window is empty, not an error.
	status, env = getEnvelope(t, srv.URL+"/storeListInDong?key=11110&startIndex=5&endIndex=3")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.TotalCount)
}

func TestServe_ZoneInRectangle(t *testing.T) {
	srv, st := newTestServer(t)
	seedServer(t, st, "1", func(s *model.Store) {
		cd, nm, lon, lat := "11110", "종로구", 126.95, 37.55
		s.SggCd, s.SggNm, s.Lon, s.Lat = &cd, &nm, &lon, &lat
	})

	status, env := getEnvelope(t, srv.URL+
		"/storeZoneInRectangle?minx=126.9&miny=37.5&maxx=127.0&maxy=37.6")
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, env.TotalCount)
	assert.Equal(t, "11110", env.Rows[0]["sggCd"])
	assert.Equal(t, float64(1), env.Rows[0]["storeCount"])
}
