// Package upstream retrieves raw business records from the commercial
// district open-data service, page by page. The service answers either in
// JSON or XML; callers always see a flat sequence of key/value records.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pasco78/store-api-project/internal/normalize"
	"github.com/pasco78/store-api-project/internal/resilience"
)

// DefaultBaseURL is the public endpoint of the store listing service.
const DefaultBaseURL = "http://apis.data.go.kr/B553077/api/open/sdsc2"

// DefaultPageSize is the page window requested when the caller does not
// override it. The service caps pages at 1000 rows.
const DefaultPageSize = 1000

const endpointStoreListInDong = "storeListInDong"

// RegionKey scopes a page request to an administrative area.
type RegionKey struct {
	DivID string // "signguCd" or "adongCd"
	Code  string
}

// ByDistrict scopes a request to a district (signgu) code.
func ByDistrict(code string) RegionKey {
	return RegionKey{DivID: "signguCd", Code: code}
}

// ByDong scopes a request to an administrative sub-district (adong) code.
func ByDong(code string) RegionKey {
	return RegionKey{DivID: "adongCd", Code: code}
}

// Options configures the upstream client.
type Options struct {
	BaseURL       string
	ServiceKey    string
	Timeout       time.Duration
	RatePerSec    float64
	UserAgent     string
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Client fetches raw record pages from the open-data service.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   resilience.RetryConfig
	opts       Options
}

// NewClient creates an upstream client with the given options.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "store-api/1.0"
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    opts.RetryAttempts,
			InitialBackoff: opts.RetryBackoff,
			OnRetry:        resilience.RetryLogger(endpointStoreListInDong),
		},
		opts: opts,
	}
}

// SetHTTPClient overrides the underlying HTTP client. Used by tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// FetchPage retrieves one page of raw records for a region.
//
// Transport failures, non-2xx statuses, and unparsable bodies are absorbed:
// the page is treated as empty and the cause is logged, so a single bad page
// never aborts a region sync. Only request construction and context
// cancellation surface as errors.
func (c *Client) FetchPage(ctx context.Context, region RegionKey, pageNo, numOfRows int) ([]normalize.Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "upstream: rate limit")
	}

	if numOfRows <= 0 {
		numOfRows = DefaultPageSize
	}
	params := url.Values{
		"ServiceKey": {c.opts.ServiceKey},
		"type":       {"json"},
		"divId":      {region.DivID},
		"key":        {region.Code},
		"pageNo":     {strconv.Itoa(pageNo)},
		"numOfRows":  {strconv.Itoa(numOfRows)},
	}
	reqURL := c.opts.BaseURL + "/" + endpointStoreListInDong + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: build request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	log := zap.L().With(
		zap.String("component", "upstream"),
		zap.String("div_id", region.DivID),
		zap.String("key", region.Code),
		zap.Int("page_no", pageNo),
	)

	type page struct {
		contentType string
		body        []byte
	}
	// Transient failures (timeouts, 429, 5xx) are retried with backoff;
	// whatever survives the retries is absorbed into an empty page below.
	result, err := resilience.DoVal(ctx, c.retryCfg, func(ctx context.Context) (page, error) {
		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return page{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := eris.Errorf("status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return page{}, resilience.NewTransientError(serr, resp.StatusCode)
			}
			return page{}, serr
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return page{}, err
		}
		return page{contentType: resp.Header.Get("Content-Type"), body: body}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "upstream: fetch page")
		}
		log.Warn("request failed, treating page as empty", zap.Error(err))
		return nil, nil
	}

	payload, perr := decodeBody(result.contentType, result.body)
	if perr != nil {
		log.Warn("unparsable response, treating page as empty", zap.Error(perr))
		return nil, nil
	}

	return itemsOf(payload), nil
}

// decodeBody parses the response as JSON, falling back to the XML tree
// flattener when the service ignored type=json.
func decodeBody(contentType string, body []byte) (map[string]any, error) {
	if !strings.Contains(contentType, "xml") {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var payload map[string]any
		if err := dec.Decode(&payload); err == nil {
			return payload, nil
		}
	}
	return flattenXML(bytes.NewReader(body))
}

// itemsOf extracts the record sequence from a decoded response. A response
// holding exactly one logical record still yields a one-element slice.
func itemsOf(payload map[string]any) []normalize.Record {
	respBody, ok := payload["body"].(map[string]any)
	if !ok {
		return nil
	}
	items := respBody["items"]

	// The XML shape nests records one level deeper: <items><item>...</item></items>.
	if m, ok := items.(map[string]any); ok {
		if item, found := m["item"]; found && len(m) == 1 {
			items = item
		}
	}

	switch t := items.(type) {
	case []any:
		records := make([]normalize.Record, 0, len(t))
		for _, el := range t {
			if rec, ok := el.(map[string]any); ok {
				records = append(records, rec)
			}
		}
		return records
	case map[string]any:
		return []normalize.Record{t}
	default:
		return nil
	}
}
