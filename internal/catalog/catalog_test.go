package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListReturnsStations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stations", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"stations": []StationRef{{ID: "a"}, {ID: "b"}},
		})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	refs, err := c.List(context.Background(), Query{Text: "jazz"})
	require.NoError(t, err)
	require.Equal(t, []StationRef{{ID: "a"}, {ID: "b"}}, refs)
}

func TestListPropagatesNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	_, err := c.List(context.Background(), Query{})
	require.Error(t, err)
}

func TestResolveCachesResult(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(ResolvedStation{Name: "Radio A", StreamURL: "http://stream.example/a"})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	ref := StationRef{ID: "a"}

	r1, err := c.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "Radio A", r1.Name)

	r2, err := c.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Equal(t, int64(1), calls.Load())
}

func TestResolveCoalescesConcurrentCallsForSameRef(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		json.NewEncoder(w).Encode(ResolvedStation{Name: "Radio A"})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	ref := StationRef{ID: "a"}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), ref)
			require.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), calls.Load())
}

func TestResolveDifferentRefsAreIndependent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/stations/"):]
		json.NewEncoder(w).Encode(ResolvedStation{Name: "Radio " + id})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL)
	ra, err := c.Resolve(context.Background(), StationRef{ID: "a"})
	require.NoError(t, err)
	rb, err := c.Resolve(context.Background(), StationRef{ID: "b"})
	require.NoError(t, err)
	require.NotEqual(t, ra.Name, rb.Name)
}
