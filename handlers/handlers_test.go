package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"url-redirector/cache"
	"url-redirector/config"
	"url-redirector/middlewares"
	"url-redirector/models"
	"url-redirector/store"

	"github.com/gorilla/mux"
)

const (
	testAdminKey    = "admin"
	testAdminSecret = "s3cret"
	testDefault     = "https://example.org/home"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu        sync.Mutex
	redirects map[string]models.Redirect
	getErr    error
	pingErr   error
}

func newMemStore() *memStore {
	return &memStore{redirects: make(map[string]models.Redirect)}
}

func (m *memStore) Get(_ context.Context, key string) (models.Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.Redirect{}, m.getErr
	}
	r, ok := m.redirects[key]
	if !ok {
		return models.Redirect{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) Put(_ context.Context, key, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redirects[key]
	r.Key, r.URL = key, url
	m.redirects[key] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.redirects, key)
	return nil
}

func (m *memStore) List(_ context.Context, cursor string, limit int) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.redirects {
		if k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit <= 0 {
		limit = 50
	}
	var page store.Page
	for i, k := range keys {
		if i == limit {
			page.Next = keys[i-1]
			break
		}
		page.Redirects = append(page.Redirects, m.redirects[k])
	}
	return page, nil
}

func (m *memStore) Increment(_ context.Context, key, field string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.redirects[key]
	if !ok {
		return store.ErrNotFound
	}
	r.Hits += amount
	m.redirects[key] = r
	return nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }
func (m *memStore) Close() error               { return nil }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.redirects[key]
	return ok
}

type recordingTracker struct {
	mu   sync.Mutex
	keys []string
}

func (t *recordingTracker) Track(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = append(t.keys, key)
}

func (t *recordingTracker) tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishRedirectChanged(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func newTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.Register(r, nil)
	return r
}

func newTestHandler(s store.Store, d Deps) *Handler {
	d.Store = s
	d.DefaultRedirect = testDefault
	d.AdminKey = testAdminKey
	d.AdminSecret = testAdminSecret
	return New(d)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func withAdminCookie(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middlewares.AdminCookieName, Value: testAdminSecret})
	return req
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDefaultRedirect(t *testing.T) {
	r := newTestRouter(newTestHandler(newMemStore(), Deps{}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != testDefault {
		t.Errorf("expected Location %s, got %s", testDefault, loc)
	}
}

func TestRedirectFoundTracksHit(t *testing.T) {
	s := newMemStore()
	s.Put(context.Background(), "abc", "https://example.com/abc")
	tracker := &recordingTracker{}
	r := newTestRouter(newTestHandler(s, Deps{Hits: tracker}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://example.com/abc" {
		t.Errorf("unexpected Location %q", loc)
	}
	if got := tracker.tracked(); len(got) != 1 || got[0] != "abc" {
		t.Errorf("expected one hit for abc, got %v", got)
	}
}

func TestRedirectReadsThroughCache(t *testing.T) {
	s := newMemStore()
	s.Put(context.Background(), "abc", "https://example.com/abc")
	c, err := cache.NewBigCacheStore(time.Minute)
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	r := newTestRouter(newTestHandler(s, Deps{Cache: c}))

	first := serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected first lookup to miss the cache")
	}
	second := serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected second lookup to hit the cache")
	}
	if second.Code != http.StatusMovedPermanently {
		t.Errorf("expected 301 from cache, got %d", second.Code)
	}
}

func TestRedirectNotFound(t *testing.T) {
	tracker := &recordingTracker{}
	r := newTestRouter(newTestHandler(newMemStore(), Deps{Hits: tracker}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "No redirect was found") {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if len(tracker.tracked()) != 0 {
		t.Error("expected no hit for a missing key")
	}
}

func TestRedirectWithoutURL(t *testing.T) {
	s := newMemStore()
	s.redirects["empty"] = models.Redirect{Key: "empty"}
	r := newTestRouter(newTestHandler(s, Deps{}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/empty", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRedirectStoreError(t *testing.T) {
	s := newMemStore()
	s.getErr = errors.New("connection reset")
	r := newTestRouter(newTestHandler(s, Deps{}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestPostToRedirectKeyNotAllowed(t *testing.T) {
	r := newTestRouter(newTestHandler(newMemStore(), Deps{}))

	rr := serve(r, postForm("/abc", url.Values{"type": {"login"}, "secret": {testAdminSecret}}))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	r := newTestRouter(newTestHandler(newMemStore(), Deps{}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "Secret is incorrect.") {
		t.Error("did not expect an error without a cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: middlewares.AdminCookieName, Value: "nope"})
	rr = serve(r, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Secret is incorrect.") {
		t.Error("expected an error for a wrong cookie")
	}
}

func TestAdminLogin(t *testing.T) {
	r := newTestRouter(newTestHandler(newMemStore(), Deps{}))

	rr := serve(r, postForm("/admin", url.Values{"type": {"login"}, "secret": {testAdminSecret}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var found bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == middlewares.AdminCookieName && c.Value == testAdminSecret {
			found = true
		}
	}
	if !found {
		t.Error("expected the admin cookie to be set")
	}
	if !strings.Contains(rr.Body.String(), "There are no redirects yet.") {
		t.Error("expected the empty admin page")
	}

	rr = serve(r, postForm("/admin", url.Values{"type": {"login"}, "secret": {"wrong"}}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Secret is incorrect.") {
		t.Error("expected an error for a wrong secret")
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Error("did not expect a cookie for a wrong secret")
	}
}

func TestAdminLoginThrottled(t *testing.T) {
	h := newTestHandler(newMemStore(), Deps{LoginLimiter: middlewares.NewLoginLimiter(0.001, 1)})
	r := newTestRouter(h)

	serve(r, postForm("/admin", url.Values{"type": {"login"}, "secret": {"wrong"}}))
	rr := serve(r, postForm("/admin", url.Values{"type": {"login"}, "secret": {testAdminSecret}}))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestAdminLoginThrottleIgnoresForwardedHeader(t *testing.T) {
	h := newTestHandler(newMemStore(), Deps{LoginLimiter: middlewares.NewLoginLimiter(0.001, 2)})
	r := newTestRouter(h)

	var last int
	for i := 0; i < 5; i++ {
		req := postForm("/admin", url.Values{"type": {"login"}, "secret": {"wrong"}})
		req.RemoteAddr = "198.51.100.7:4321"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		last = serve(r, req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected rotating X-Forwarded-For to stay throttled, got %d", last)
	}
}

func TestAdminUpsertAndDelete(t *testing.T) {
	s := newMemStore()
	c, err := cache.NewBigCacheStore(time.Minute)
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	pub := &recordingPublisher{}
	r := newTestRouter(newTestHandler(s, Deps{Cache: c, Publisher: pub}))

	s.Put(context.Background(), "abc", "https://old.example.com")
	serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))

	rr := serve(r, withAdminCookie(postJSON("/admin", `{"type":"upsert","key":"abc","url":"https://new.example.com"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "https://new.example.com") {
		t.Error("expected the new url in the listing")
	}

	rr = serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if loc := rr.Header().Get("Location"); loc != "https://new.example.com" {
		t.Errorf("expected cache to be invalidated, got Location %q", loc)
	}

	rr = serve(r, withAdminCookie(postForm("/admin", url.Values{"type": {"delete"}, "key": {"abc"}})))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if s.has("abc") {
		t.Error("expected abc to be deleted")
	}
	rr = serve(r, httptest.NewRequest(http.MethodGet, "/abc", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.keys) != 2 || pub.keys[0] != "abc" || pub.keys[1] != "abc" {
		t.Errorf("expected two published changes for abc, got %v", pub.keys)
	}
}

func TestAdminUpsertGeneratesKey(t *testing.T) {
	s := newMemStore()
	r := newTestRouter(newTestHandler(s, Deps{}))

	rr := serve(r, withAdminCookie(postForm("/admin", url.Values{"type": {"upsert"}, "url": {"https://example.com"}})))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page, _ := s.List(context.Background(), "", 0)
	if len(page.Redirects) != 1 {
		t.Fatalf("expected one redirect, got %d", len(page.Redirects))
	}
	if key := page.Redirects[0].Key; len(key) != generatedKeyLen {
		t.Errorf("expected a %d character key, got %q", generatedKeyLen, key)
	}
}

func TestAdminUpsertRejectsReservedKeys(t *testing.T) {
	s := newMemStore()
	r := newTestRouter(newTestHandler(s, Deps{}))

	for _, key := range []string{testAdminKey, "healthz", "a/b"} {
		rr := serve(r, withAdminCookie(postForm("/admin", url.Values{"type": {"upsert"}, "key": {key}, "url": {"https://example.com"}})))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", key, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `class="error"`) {
			t.Errorf("%s: expected an error box", key)
		}
		if s.has(key) {
			t.Errorf("%s: expected key not to be stored", key)
		}
	}
}

func TestAdminBadPayload(t *testing.T) {
	r := newTestRouter(newTestHandler(newMemStore(), Deps{}))

	cases := []*http.Request{
		withAdminCookie(postJSON("/admin", `{"type":"rename"}`)),
		withAdminCookie(postJSON("/admin", `not json`)),
		withAdminCookie(postForm("/admin", url.Values{"type": {"upsert"}, "key": {"abc"}})),
		withAdminCookie(postForm("/admin", url.Values{"type": {"delete"}})),
	}
	for i, req := range cases {
		if rr := serve(r, req); rr.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, rr.Code)
		}
	}
}

func TestAdminEscapesStoredValues(t *testing.T) {
	s := newMemStore()
	s.Put(context.Background(), "xss", `https://example.com/"><script>alert(1)</script>`)
	r := newTestRouter(newTestHandler(s, Deps{}))

	rr := serve(r, withAdminCookie(httptest.NewRequest(http.MethodGet, "/admin", nil)))
	if strings.Contains(rr.Body.String(), "<script>alert(1)</script>") {
		t.Error("expected stored url to be escaped")
	}
}

func TestAdminPagingWithSQLStore(t *testing.T) {
	db, err := config.OpenDB(filepath.Join(t.TempDir(), "redirects.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	s := store.NewSQLStore(db)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, key, "https://example.com/"+key); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	r := newTestRouter(newTestHandler(s, Deps{PageSize: 2}))

	rr := serve(r, withAdminCookie(httptest.NewRequest(http.MethodGet, "/admin", nil)))
	body := rr.Body.String()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(body, "https://example.com/b") || strings.Contains(body, "https://example.com/c") {
		t.Errorf("expected first page to hold a and b only")
	}
	if !strings.Contains(body, "/admin?cursor=b") {
		t.Errorf("expected a next link with cursor b")
	}
	if strings.Contains(body, ">First<") {
		t.Errorf("did not expect a first link on the first page")
	}

	rr = serve(r, withAdminCookie(httptest.NewRequest(http.MethodGet, "/admin?cursor=b", nil)))
	body = rr.Body.String()
	if !strings.Contains(body, "https://example.com/c") || strings.Contains(body, "https://example.com/a") {
		t.Errorf("expected second page to hold c only")
	}
	if !strings.Contains(body, ">First<") {
		t.Errorf("expected a first link on a later page")
	}
	if strings.Contains(body, "cursor=") {
		t.Errorf("did not expect a next link on the last page")
	}
}

func TestHealthHandler(t *testing.T) {
	s := newMemStore()
	r := newTestRouter(newTestHandler(s, Deps{}))

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"healthy"`) {
		t.Fatalf("expected healthy 200, got %d %s", rr.Code, rr.Body.String())
	}

	s.pingErr = errors.New("database is locked")
	rr = serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"unhealthy"`) {
		t.Fatalf("expected unhealthy 503, got %d %s", rr.Code, rr.Body.String())
	}
}
