package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		BaseURL:       srv.URL,
		ServiceKey:    "test-key",
		RatePerSec:    1000,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})
	c.SetHTTPClient(srv.Client())
	return c
}

func TestFetchPage_JSONArray(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"divId":     r.URL.Query().Get("divId"),
			"key":       r.URL.Query().Get("key"),
			"pageNo":    r.URL.Query().Get("pageNo"),
			"numOfRows": r.URL.Query().Get("numOfRows"),
			"type":      r.URL.Query().Get("type"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"header":{"resultCode":"00"},"body":{"items":[
			{"bizesId":"1","bizesNm":"A"},
			{"bizesId":"2","bizesNm":"B"}
		],"totalCount":2}}`))
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0]["bizesId"])
	assert.Equal(t, "B", records[1]["bizesNm"])

	assert.Equal(t, "signguCd", gotQuery["divId"])
	assert.Equal(t, "11110", gotQuery["key"])
	assert.Equal(t, "1", gotQuery["pageNo"])
	assert.Equal(t, "100", gotQuery["numOfRows"])
	assert.Equal(t, "json", gotQuery["type"])
}

func TestFetchPage_SingleObjectBecomesOneElementSequence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body":{"items":{"bizesId":"solo","bizesNm":"Only One"}}}`))
	})

	records, err := c.FetchPage(context.Background(), ByDong("1111051500"), 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "solo", records[0]["bizesId"])
}

func TestFetchPage_XMLFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<response>
  <header><resultCode>00</resultCode></header>
  <body>
    <items>
      <item><bizesId>1</bizesId><bizesNm>First</bizesNm></item>
      <item><bizesId>2</bizesId><bizesNm>Second</bizesNm></item>
    </items>
  </body>
</response>`))
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0]["bizesId"])
	assert.Equal(t, "Second", records[1]["bizesNm"])
}

func TestFetchPage_XMLSingleItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<response><body><items><item><bizesId>9</bizesId></item></items></body></response>`))
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "9", records[0]["bizesId"])
}

func TestFetchPage_Non2xxIsEmptyPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err, "page-level failures must not abort the sync")
	assert.Empty(t, records)
}

func TestFetchPage_RetriesTransientStatus(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "hold on", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body":{"items":[{"bizesId":"1"}]}}`))
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, attempts)
}

func TestFetchPage_MalformedBodyIsEmptyPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body": [truncated`))
	})

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchPage_TransportFailureIsEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(Options{BaseURL: srv.URL, ServiceKey: "k", RatePerSec: 1000, Timeout: time.Second,
		RetryAttempts: 2, RetryBackoff: time.Millisecond})
	srv.Close()

	records, err := c.FetchPage(context.Background(), ByDistrict("11110"), 1, 100)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.FetchPage(ctx, ByDistrict("11110"), 1, 100)
	require.Error(t, err, "cancellation is the caller's signal, not an empty page")
}

func TestFlattenXML_RepeatedSiblingsBecomeArray(t *testing.T) {
	m, err := flattenXML(strings.NewReader(
		`<root><tag>a</tag><tag>b</tag><other>c</other></root>`))
	require.NoError(t, err)

	arr, ok := m["tag"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, arr)
	assert.Equal(t, "c", m["other"])
}

func TestItemsOf_MissingBody(t *testing.T) {
	assert.Empty(t, itemsOf(map[string]any{"header": map[string]any{}}))
	assert.Empty(t, itemsOf(map[string]any{"body": map[string]any{}}))
}
