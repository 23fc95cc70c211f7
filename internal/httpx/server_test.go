package httpx

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chentyke/chargebaby-sub000/internal/catalog"
	"github.com/chentyke/chargebaby-sub000/internal/imagecache"
	"github.com/chentyke/chargebaby-sub000/internal/notion"
	"github.com/chentyke/chargebaby-sub000/internal/origin"
	"github.com/chentyke/chargebaby-sub000/internal/ttlcache"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	pages   []notion.Page
	fail    atomic.Bool
	queries atomic.Int32
}

func (f *fakeSource) QueryAll(context.Context, string, notion.Query) ([]notion.Page, error) {
	f.queries.Add(1)
	if f.fail.Load() {
		return nil, stderrors.New("upstream down")
	}
	return f.pages, nil
}

func (f *fakeSource) Page(_ context.Context, id string) (notion.Page, error) {
	for _, p := range f.pages {
		if p.ID == id {
			return p, nil
		}
	}
	return notion.Page{}, stderrors.New("not found")
}

func (f *fakeSource) BlockTree(context.Context, string) ([]notion.Block, error) {
	return []notion.Block{{ID: "b1", Type: "paragraph"}}, nil
}

type fakeOrigin struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeOrigin) Fetch(_ context.Context, rawURL string) (origin.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return origin.Object{}, f.err
	}
	return origin.Object{Body: []byte("png:" + rawURL), ContentType: "image/png"}, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	images map[string]int
	routes map[string]int
}

func (r *countingRecorder) HTTPRequest(method, route string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[method+" "+route]++
}

func (r *countingRecorder) Image(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[result]++
}

func page(id, slug, title string) notion.Page {
	return notion.Page{
		ID: id,
		Properties: map[string]notion.Property{
			"Slug":  {Type: "rich_text", RichText: []notion.RichText{{PlainText: slug}}},
			"Title": {Type: "title", Title: []notion.RichText{{PlainText: title}}},
		},
	}
}

type fixture struct {
	server   *Server
	cache    *ttlcache.Cache[any]
	source   *fakeSource
	origin   *fakeOrigin
	recorder *countingRecorder
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	cache := ttlcache.New[any]()
	t.Cleanup(cache.Close)

	src := &fakeSource{pages: []notion.Page{page("p1", "anker-737", "Anker 737")}}
	org := &fakeOrigin{}
	rec := &countingRecorder{images: map[string]int{}, routes: map[string]int{}}

	s := New(Deps{
		Registry: catalog.NewRegistry(
			catalog.New(catalog.ChargeBabies("db1"), src, cache),
			catalog.New(catalog.Cables("db2"), src, cache),
		),
		Images:     imagecache.New(cache, imagecache.WithUpstreamHosts([]string{"file.notion.so"})),
		Origin:     org,
		Stats:      cache.Stats,
		PurgeToken: token,
		Recorder:   rec,
	})
	return &fixture{server: s, cache: cache, source: src, origin: org, recorder: rec}
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func imageURL(raw string, extra string) string {
	return "/image?url=" + url.QueryEscape(raw) + extra
}

func TestListAndItem(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/chargebaby", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, "anker-737", items[0]["slug"])
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = f.do(http.MethodGet, "/api/chargebaby/anker-737", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "Anker 737", item["title"])
	require.Len(t, item["content"], 1)

	rec = f.do(http.MethodGet, "/api/chargebaby/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"not found"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/phones", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, 2, f.recorder.routes["GET /api/:collection"])
	require.Equal(t, 2, f.recorder.routes["GET /api/:collection/:key"])
}

func TestListNeverFails(t *testing.T) {
	f := newFixture(t, "")
	f.source.fail.Store(true)

	rec := f.do(http.MethodGet, "/api/cable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t, "")

	for _, name := range []string{requestIDHeader, "x-request-id"} {
		rec := f.do(http.MethodGet, "/healthz", http.Header{name: {"abc-123"}})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader), name)
	}

	rec := f.do(http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
	require.NotEqual(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestImageUpstreamIsCached(t *testing.T) {
	f := newFixture(t, "")
	src := "https://file.notion.so/f/a.png?sig=abc123"

	rec := f.do(http.MethodGet, imageURL(src, "&w=320&q=80"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, resultMiss, rec.Header().Get(cacheHeader))
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, []string{src + "&width=320&quality=80"}, f.origin.urls)

	resigned := "https://file.notion.so/f/a.png?sig=xyz999"
	rec = f.do(http.MethodGet, imageURL(resigned, "&w=320&q=80"), nil)
	require.Equal(t, resultHit, rec.Header().Get(cacheHeader))
	require.Len(t, f.origin.urls, 1)

	rec = f.do(http.MethodGet, imageURL(src, "&w=640&q=80"), nil)
	require.Equal(t, resultMiss, rec.Header().Get(cacheHeader))
	require.Len(t, f.origin.urls, 2)

	require.Equal(t, 1, f.recorder.images[resultHit])
	require.Equal(t, 2, f.recorder.images[resultMiss])
}

func TestImageBypassIsNotCached(t *testing.T) {
	f := newFixture(t, "")
	src := "https://images.example.com/a.png"

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, imageURL(src, "&w=320"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, resultBypass, rec.Header().Get(cacheHeader))
	}
	require.Equal(t, []string{src, src}, f.origin.urls)
	require.Empty(t, f.cache.Stats().Keys)
}

func TestImagePlaceholder(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		originErr error
	}{
		{name: "missing url", target: "/image"},
		{name: "bad scheme", target: imageURL("ftp://file.notion.so/a.png", "")},
		{name: "upstream fails", target: imageURL("https://file.notion.so/a.png", ""), originErr: stderrors.New("timeout")},
		{name: "bypass fails", target: imageURL("https://other.example.com/a.png", ""), originErr: stderrors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.origin.err = tt.originErr

			rec := f.do(http.MethodGet, tt.target, nil)
			want := imagecache.Placeholder()
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, resultPlaceholder, rec.Header().Get(cacheHeader))
			require.Equal(t, want.ContentType, rec.Header().Get("Content-Type"))
			require.Equal(t, want.CacheControl, rec.Header().Get("Cache-Control"))
			require.Equal(t, want.Body, rec.Body.Bytes())
			require.Empty(t, f.cache.Stats().Keys)
		})
	}
}

func TestClassifyImageRequest(t *testing.T) {
	q := url.Values{"url": {"https://file.notion.so/a.png"}, "w": {"320"}, "h": {"abc"}, "q": {"500"}}
	req := ClassifyImageRequest(q)
	require.True(t, req.Valid)
	require.Equal(t, imagecache.Resolution{Width: 320}, req.Resolution)

	require.Equal(t, "missing-url", ClassifyImageRequest(url.Values{}).Reason)
	require.Equal(t, "invalid-url", ClassifyImageRequest(url.Values{"url": {"/relative.png"}}).Reason)
	require.Equal(t, "unsupported-scheme", ClassifyImageRequest(url.Values{"url": {"file://host/etc/passwd"}}).Reason)
	require.True(t, ClassifyImageRequest(url.Values{"url": {"s3://assets/a.png"}}).Valid)
}

func TestPurgeRequiresToken(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec := f.do(methodPurge, "/api/chargebaby", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(methodPurge, "/api/chargebaby", http.Header{purgeTokenHeader: {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(methodPurge, "/api/chargebaby", http.Header{"Authorization": {"Bearer s3cret"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPurgeCollectionRewarms(t *testing.T) {
	f := newFixture(t, "s3cret")
	auth := http.Header{purgeTokenHeader: {"s3cret"}}

	f.do(http.MethodGet, "/api/chargebaby/anker-737", nil)
	f.do(http.MethodGet, "/api/cable", nil)
	f.cache.Set("image:abc", imagecache.Image{}, time.Hour)
	require.EqualValues(t, 2, f.source.queries.Load())

	rec := f.do(methodPurge, "/api/chargebaby", auth)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "3", rec.Header().Get(purgedHeader))
	require.EqualValues(t, 3, f.source.queries.Load(), "list is re-warmed once")
	require.Equal(t, []string{"cable-list", "chargebaby-list", "image:abc"}, f.cache.Stats().Keys)
}

func TestPurgeDuringOutageKeepsList(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodGet, "/api/chargebaby", nil)
	f.source.fail.Store(true)

	rec := f.do(methodPurge, "/api/chargebaby", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1", rec.Header().Get(purgedHeader))

	for i := 0; i < 2; i++ {
		rec = f.do(http.MethodGet, "/api/chargebaby", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var items []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
		require.Len(t, items, 1)
	}
}

func TestPurgeItemAndAll(t *testing.T) {
	f := newFixture(t, "")

	f.do(http.MethodGet, "/api/chargebaby/anker-737", nil)
	rec := f.do(methodPurge, "/api/chargebaby/anker-737", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "2", rec.Header().Get(purgedHeader))
	require.Equal(t, []string{"chargebaby-list"}, f.cache.Stats().Keys)

	rec = f.do(methodPurge, "/api/phones", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(methodPurge, "/api", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1", rec.Header().Get(purgedHeader))
	require.Equal(t, []string{"cable-list", "chargebaby-list"}, f.cache.Stats().Keys)
}

func TestPurgeImages(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodGet, imageURL("https://file.notion.so/a.png", ""), nil)
	f.do(http.MethodGet, "/api/cable", nil)

	rec := f.do(methodPurge, "/image", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1", rec.Header().Get(purgedHeader))
	require.Equal(t, []string{"cable-list"}, f.cache.Stats().Keys)
}

func TestDebugAndProbes(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodGet, "/api/cable", nil)

	rec := f.do(http.MethodGet, "/debug/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"size":1,"keys":["cable-list"]}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := New(Deps{
		Registry: catalog.NewRegistry(),
		Images:   imagecache.New(f.cache),
		Origin:   f.origin,
		Ready:    func() bool { return false },
	})
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "Not Found"))
}
