// Package catalog is the client for the external, read-only station
// catalog service: list stations matching a query, resolve a station
// reference to a streaming URL, with an in-process no-expiry cache.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"
)

// Query mirrors spec.md §6's list() filter set.
type Query struct {
	Text   string
	Region string
	Random bool
	Seed   string
}

// StationRef identifies a station within the catalog without resolving it.
type StationRef struct {
	ID string
}

// ResolvedStation is the full record behind a StationRef.
type ResolvedStation struct {
	Name      string
	Country   string
	Lat, Lon  float64
	StreamURL string
}

// Client is the catalog surface this system consumes (spec.md §6).
type Client interface {
	List(ctx context.Context, q Query) ([]StationRef, error)
	Resolve(ctx context.Context, ref StationRef) (ResolvedStation, error)
}

// HTTPClient talks to a catalog service over HTTP/JSON using fasthttp
// (short-lived request/response calls; see DESIGN.md for why this client
// uses fasthttp while capture.Capture's long-lived streaming GET does
// not). Resolved records are cached for the process lifetime, keyed by
// ref, with no expiry, and concurrent resolves of the same ref are
// coalesced so a slow catalog response is only fetched once.
type HTTPClient struct {
	baseURL string
	cache   *xsync.MapOf[string, ResolvedStation]
	group   singleflight.Group
}

// NewHTTPClient builds a catalog client against baseURL (e.g.
// "https://catalog.example.internal").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		cache:   xsync.NewMapOf[string, ResolvedStation](),
	}
}

func (c *HTTPClient) List(ctx context.Context, q Query) ([]StationRef, error) {
	u := fmt.Sprintf("%s/stations?%s", c.baseURL, encodeQuery(q))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := doWithContext(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("catalog: list: unexpected status %d", resp.StatusCode())
	}

	var body struct {
		Stations []StationRef `json:"stations"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("catalog: list: decode response: %w", err)
	}
	return body.Stations, nil
}

func (c *HTTPClient) Resolve(ctx context.Context, ref StationRef) (ResolvedStation, error) {
	if cached, ok := c.cache.Load(ref.ID); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(ref.ID, func() (any, error) {
		if cached, ok := c.cache.Load(ref.ID); ok {
			return cached, nil
		}
		resolved, err := c.fetchResolve(ctx, ref)
		if err != nil {
			return ResolvedStation{}, err
		}
		c.cache.Store(ref.ID, resolved)
		return resolved, nil
	})
	if err != nil {
		return ResolvedStation{}, err
	}
	return v.(ResolvedStation), nil
}

func (c *HTTPClient) fetchResolve(ctx context.Context, ref StationRef) (ResolvedStation, error) {
	u := fmt.Sprintf("%s/stations/%s", c.baseURL, url.PathEscape(ref.ID))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := doWithContext(ctx, req, resp); err != nil {
		return ResolvedStation{}, fmt.Errorf("catalog: resolve %s: %w", ref.ID, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return ResolvedStation{}, fmt.Errorf("catalog: resolve %s: unexpected status %d", ref.ID, resp.StatusCode())
	}

	var out ResolvedStation
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return ResolvedStation{}, fmt.Errorf("catalog: resolve %s: decode response: %w", ref.ID, err)
	}
	return out, nil
}

func doWithContext(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	errC := make(chan error, 1)
	go func() {
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errC:
		return err
	}
}

func encodeQuery(q Query) string {
	v := url.Values{}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	if q.Region != "" {
		v.Set("region", q.Region)
	}
	if q.Random {
		v.Set("random", "true")
	}
	if q.Seed != "" {
		v.Set("seed", q.Seed)
	}
	return v.Encode()
}
