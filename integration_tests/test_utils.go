//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/monitoring"
	"github.com/seismic-bv/seismic/internal/nostr"
	"github.com/seismic-bv/seismic/internal/relay"
	"github.com/seismic-bv/seismic/internal/server"
	"github.com/seismic-bv/seismic/internal/site"
)

// Relay modes.
const (
	relayAccept = "accept"
	relayReject = "reject"
	relaySilent = "silent"
)

// TestRelay is an in-process Nostr relay that stores every valid EVENT it
// receives and answers according to its mode.
type TestRelay struct {
	URL  string
	mode string

	mu     sync.Mutex
	events []nostr.Event
}

func (tr *TestRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}

	var frame []json.RawMessage
	if json.Unmarshal(data, &frame) != nil || len(frame) != 2 {
		return
	}
	var ev nostr.Event
	if json.Unmarshal(frame[1], &ev) != nil || ev.Verify() != nil {
		return
	}

	tr.mu.Lock()
	tr.events = append(tr.events, ev)
	tr.mu.Unlock()

	switch tr.mode {
	case relayAccept:
		_ = writeFrame(ctx, conn, "OK", ev.ID, true, "")
	case relayReject:
		_ = writeFrame(ctx, conn, "OK", ev.ID, false, "blocked: not on the allowlist")
	}
	_, _, _ = conn.Read(ctx)
}

// Events returns the events the relay stored.
func (tr *TestRelay) Events() []nostr.Event {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]nostr.Event(nil), tr.events...)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, fields ...interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// StartRelay runs a TestRelay until the test ends.
func StartRelay(t *testing.T, mode string) *TestRelay {
	t.Helper()
	tr := &TestRelay{mode: mode}
	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)
	tr.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return tr
}

// E2ETestSystem is a running site wired to test relays and a fresh
// recipient key.
type E2ETestSystem struct {
	Recipient *nostr.PrivateKey
	Relays    []*TestRelay
	Config    *config.Config
	Store     *site.Store
	Server    *server.Server
	URL       string
}

// NewE2ETestSystem starts the full stack on a random port.
func NewE2ETestSystem(t *testing.T, relays []*TestRelay, mutate ...func(*config.Config)) *E2ETestSystem {
	t.Helper()

	recipient, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)

	urls := make([]string, 0, len(relays))
	for _, r := range relays {
		urls = append(urls, r.URL)
	}

	v := viper.New()
	v.Set("contact.recipient", recipient.PublicKey().NPub())
	v.Set("contact.relays", urls)
	v.Set("contact.publish_timeout", time.Second)
	v.Set("server.host", "127.0.0.1")
	v.Set("server.port", 0)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	for _, m := range mutate {
		m(cfg)
	}

	metrics := monitoring.NewMetrics()
	store, err := site.NewStore(cfg.Site.ContentFile, site.WithReloadRecorder(metrics))
	require.NoError(t, err)

	cipher, err := cfg.Contact.CipherImpl()
	require.NoError(t, err)
	pool := relay.NewPool(cfg.Contact.Relays, relay.WithTimeout(cfg.Contact.PublishTimeout))
	dispatcher, err := contact.NewDispatcher(contact.DispatcherConfig{
		Recipient:      recipient.PublicKey(),
		Cipher:         cipher,
		MaxMessageSize: cfg.Contact.MaxMessageSize,
	}, pool, contact.WithMetrics(metrics))
	require.NoError(t, err)

	srv, err := server.New(cfg, server.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Relays:     pool.Relays,
		Metrics:    metrics,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-served:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	system := &E2ETestSystem{
		Recipient: recipient,
		Relays:    relays,
		Config:    cfg,
		Store:     store,
		Server:    srv,
		URL:       "http://" + ln.Addr().String(),
	}
	require.NoError(t, WaitForServerReadiness(ctx, system.URL, 5*time.Second))
	return system
}

// WaitForServerReadiness polls /health until it answers 200.
func WaitForServerReadiness(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("server at %s not ready: %w", baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}
