package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/monitoring"
	"github.com/seismic-bv/seismic/internal/relay"
	"github.com/seismic-bv/seismic/internal/site"
)

// stubDispatcher records forms and answers with a fixed result. When
// release is set, Dispatch blocks until it is closed.
type stubDispatcher struct {
	mu       sync.Mutex
	forms    []contact.Form
	release  chan struct{}
	report  *relay.Report
	err     error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, form contact.Form) (*relay.Report, error) {
	d.mu.Lock()
	d.forms = append(d.forms, form)
	d.mu.Unlock()
	if d.release != nil {
		<-d.release
	}
	return d.report, d.err
}

func (d *stubDispatcher) received() []contact.Form {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]contact.Form(nil), d.forms...)
}

func acceptedReport() *relay.Report {
	return &relay.Report{EventID: "ev1", Outcomes: []relay.Outcome{
		{URL: "wss://a.example", Status: relay.StatusAccepted},
		{URL: "wss://b.example", Status: relay.StatusRejected, Message: "blocked"},
	}}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, d *stubDispatcher, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	store, err := site.NewStore("")
	require.NoError(t, err)

	s, err := New(cfg, Deps{Store: store, Dispatcher: d, Metrics: monitoring.NewMetrics()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func adaValues() url.Values {
	return url.Values{"name": {"Ada"}, "email": {"ada@example.com"}, "message": {"Hello"}}
}

func parseBody(t *testing.T, rec *httptest.ResponseRecorder) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(rec.Body.String()))
	require.NoError(t, err)
	return doc
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrOf(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, _ := attrOf(n, "id")
		return v == id
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.Error(t, err)

	_, err = New(testConfig(t), Deps{})
	assert.Error(t, err)
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	doc := parseBody(t, rec)
	for _, id := range []string{"top", "projects", "collaborations", "publications", "profiles", "contact"} {
		assert.NotNil(t, findNode(doc, byID(id)), "missing #%s", id)
	}
	assert.Nil(t, findNode(doc, func(n *html.Node) bool {
		class, _ := attrOf(n, "class")
		return strings.HasPrefix(class, "banner")
	}), "no banner before a submission")
}

func TestIndexNonceMatchesCSP(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	m := regexp.MustCompile(`'nonce-([^']+)'`).FindStringSubmatch(rec.Header().Get("Content-Security-Policy"))
	require.Len(t, m, 2)

	script := findNode(parseBody(t, rec), func(n *html.Node) bool { return n.Data == "script" })
	require.NotNil(t, script)
	nonce, ok := attrOf(script, "nonce")
	require.True(t, ok)
	assert.Equal(t, m[1], nonce)

	// every response gets a fresh nonce
	again := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEqual(t, rec.Header().Get("Content-Security-Policy"), again.Header().Get("Content-Security-Policy"))
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{})

	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(s, httptest.NewRequest(http.MethodGet, "/contact", nil)).Code)
}

func TestContactFormSuccess(t *testing.T) {
	d := &stubDispatcher{report: acceptedReport()}
	s := newTestServer(t, d)

	rec := do(s, postForm(adaValues()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), contact.SuccessMessage)

	doc := parseBody(t, rec)
	banner := findNode(doc, func(n *html.Node) bool {
		role, _ := attrOf(n, "role")
		return role == "alert"
	})
	require.NotNil(t, banner)
	id, ok := attrOf(banner, "data-submission")
	require.True(t, ok)

	name := findNode(doc, byID("contact-name"))
	require.NotNil(t, name)
	value, _ := attrOf(name, "value")
	assert.Empty(t, value, "fields start over after a submission")

	update, err := s.hub.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, update.Delivered)
	assert.Equal(t, []contact.Form{{Name: "Ada", Email: "ada@example.com", Message: "Hello"}}, d.received())
}

func TestContactFormValidationError(t *testing.T) {
	d := &stubDispatcher{report: acceptedReport()}
	s := newTestServer(t, d)

	values := adaValues()
	values.Del("email")
	rec := do(s, postForm(values))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), contact.ErrorMessage)

	doc := parseBody(t, rec)
	name := findNode(doc, byID("contact-name"))
	require.NotNil(t, name)
	value, _ := attrOf(name, "value")
	assert.Equal(t, "Ada", value, "fields survive a validation failure")

	email := findNode(doc, byID("contact-email"))
	require.NotNil(t, email)
	invalid, _ := attrOf(email, "aria-invalid")
	assert.Equal(t, "true", invalid)

	_, nameInvalid := attrOf(name, "aria-invalid")
	assert.False(t, nameInvalid)
	assert.Empty(t, d.received())
}

func TestContactFormEscapesInput(t *testing.T) {
	d := &stubDispatcher{}
	s := newTestServer(t, d)

	values := url.Values{"name": {`<script>alert(1)</script>`}, "message": {"hi"}}
	rec := do(s, postForm(values))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotContains(t, rec.Body.String(), `<script>alert(1)</script>`)
}

func TestContactFormLongMessage(t *testing.T) {
	d := &stubDispatcher{report: acceptedReport()}
	s := newTestServer(t, d)

	values := adaValues()
	values.Set("message", strings.Repeat("x", 11000))
	rec := do(s, postForm(values))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), contact.SuccessMessage)

	m := regexp.MustCompile(`data-submission="([^"]+)"`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	update, err := s.hub.Wait(context.Background(), m[1])
	require.NoError(t, err)
	assert.True(t, update.Delivered)

	forms := d.received()
	require.Len(t, forms, 1)
	assert.Len(t, forms[0].Message, 11000)
}

func TestContactFormUndeliverableMessageReportsThroughStatus(t *testing.T) {
	d := &stubDispatcher{
		err: errors.NewTransportError(errors.ErrCodeMessageTooLarge, "message is too large for the relays", nil),
	}
	s := newTestServer(t, d)

	rec := do(s, postForm(adaValues()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), contact.SuccessMessage)

	m := regexp.MustCompile(`data-submission="([^"]+)"`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	update, err := s.hub.Wait(context.Background(), m[1])
	require.NoError(t, err)
	assert.False(t, update.Delivered)
	assert.Equal(t, errors.ErrCodeMessageTooLarge, update.Code)
	assert.Equal(t, "the message is too long to send", update.Error)
}

func TestContactAPI(t *testing.T) {
	post := func(s *Server, path, body string) (*httptest.ResponseRecorder, contactResponse) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := do(s, req)
		var resp contactResponse
		if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		}
		return rec, resp
	}
	ada := `{"name":"Ada","email":"ada@example.com","message":"Hello"}`

	t.Run("accepted", func(t *testing.T) {
		s := newTestServer(t, &stubDispatcher{report: acceptedReport()})
		rec, resp := post(s, "/api/contact", ada)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, contact.SuccessMessage, resp.Message)
		assert.NotEmpty(t, resp.ID)
		assert.Nil(t, resp.Result)
	})

	t.Run("wait delivered", func(t *testing.T) {
		s := newTestServer(t, &stubDispatcher{report: acceptedReport()})
		rec, resp := post(s, "/api/contact?wait=true", ada)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, resp.Result)
		assert.True(t, resp.Result.Delivered)
		assert.Equal(t, []string{"wss://a.example"}, resp.Result.Accepted)
		assert.Equal(t, 1, resp.Result.Failed)
	})

	t.Run("wait undelivered", func(t *testing.T) {
		d := &stubDispatcher{err: errors.NewTransportError(errors.ErrCodeRelaysFailed, "no relay accepted", nil)}
		s := newTestServer(t, d)
		rec, resp := post(s, "/api/contact?wait=true", ada)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		require.NotNil(t, resp.Result)
		assert.False(t, resp.Result.Delivered)
		assert.Equal(t, errors.ErrCodeRelaysFailed, resp.Result.Code)
		assert.NotContains(t, resp.Result.Error, "blocked", "relay messages stay in the log")
	})

	t.Run("invalid", func(t *testing.T) {
		s := newTestServer(t, &stubDispatcher{})
		rec, resp := post(s, "/api/contact", `{"name":"Ada"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, contact.ErrorMessage, resp.Message)
		assert.Equal(t, []string{contact.FieldEmail, contact.FieldMessage}, resp.Fields)
	})

	t.Run("unknown field", func(t *testing.T) {
		s := newTestServer(t, &stubDispatcher{})
		rec, _ := post(s, "/api/contact", `{"name":"Ada","phone":"123"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCrossOriginSubmissionRejected(t *testing.T) {
	d := &stubDispatcher{report: acceptedReport()}
	s := newTestServer(t, d, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://seismic.example"}
	})

	evil := postForm(adaValues())
	evil.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, do(s, evil).Code)

	allowed := postForm(adaValues())
	allowed.Header.Set("Origin", "https://seismic.example")
	assert.Equal(t, http.StatusOK, do(s, allowed).Code)

	sameHost := postForm(adaValues())
	sameHost.Header.Set("Origin", "http://"+sameHost.Host)
	assert.Equal(t, http.StatusOK, do(s, sameHost).Code)
}

func TestContactRateLimited(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{report: acceptedReport()}, func(c *config.Config) {
		c.Server.RateLimit.Burst = 1
	})

	assert.Equal(t, http.StatusOK, do(s, postForm(adaValues())).Code)
	rec := do(s, postForm(adaValues()))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// the page itself is never limited
	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestStatusSocket(t *testing.T) {
	d := &stubDispatcher{report: acceptedReport(), release: make(chan struct{})}
	s := newTestServer(t, d)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/contact", "application/json",
		strings.NewReader(`{"name":"Ada","email":"ada@example.com","message":"Hello"}`))
	require.NoError(t, err)
	var accepted contactResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + site.DefaultStatusPath + "?id=" + accepted.ID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	close(d.release)

	var update StatusUpdate
	require.NoError(t, wsjson.Read(ctx, conn, &update))
	assert.Equal(t, accepted.ID, update.ID)
	assert.True(t, update.Delivered)

	unknown, err := http.Get(ts.URL + site.DefaultStatusPath + "?id=nope")
	require.NoError(t, err)
	unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestStaticAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logos", "tno.png"), []byte("\x89PNG"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("secret"), 0o644))

	s := newTestServer(t, &stubDispatcher{}, func(c *config.Config) {
		c.Site.AssetsDir = dir
	})

	css := do(s, httptest.NewRequest(http.MethodGet, "/static/site.css", nil))
	assert.Equal(t, http.StatusOK, css.Code)
	assert.Contains(t, css.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "public, max-age=3600", css.Header().Get("Cache-Control"))

	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/static/logos/tno.png", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/static/notes.txt", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/static/logos/", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/static/missing.css", nil)).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{report: acceptedReport()})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health monitoring.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, monitoring.HealthStatusHealthy, health.Status)
	assert.Contains(t, health.Checks, "relays")
	assert.Contains(t, health.Checks, "content")

	do(s, postForm(adaValues()))
	metrics := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `seismic_contact_submissions_total{result="accepted"} 1`)
	assert.Contains(t, metrics.Body.String(), `path="POST /contact"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(errors.NewErrorHandler(nil))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewValidationError(errors.ErrCodeValidationFailed, "x"), http.StatusUnprocessableEntity},
		{errors.NewTimeoutError(errors.ErrCodeNoAcknowledgment, "x"), http.StatusGatewayTimeout},
		{errors.NewTransportError(errors.ErrCodeNoRelays, "x", nil), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t, &stubDispatcher{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, s.Serve(context.Background(), ln), "a server serves once")
}
