package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"relaybot/internal/domain"
	"relaybot/internal/obs"
)

// fakeListener is a net.Listener that never accepts; Accept blocks until Close. For testing Run() without binding.
type fakeListener struct {
	addr   net.Addr
	closed chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		addr:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999},
		closed: make(chan struct{}),
	}
}

func (f *fakeListener) Accept() (net.Conn, error) {
	<-f.closed
	return nil, net.ErrClosed
}

func (f *fakeListener) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeListener) Addr() net.Addr { return f.addr }

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_WhenPortInvalid_ShouldReturnError(t *testing.T) {
	for _, port := range []int{-1, 70000} {
		if _, err := NewServer(domain.GatewayConfig{Port: port}, nil); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("port %d: want ErrInvalidPort, got %v", port, err)
		}
	}
}

func TestServer_Healthz_ShouldNotRequireAuth(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{AuthToken: "my-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	rec := get(t, srv.Handler(), "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("want 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_Metrics_WhenAuthTokenSet_ShouldRequireBearer(t *testing.T) {
	m := obs.NewMetrics(prometheus.NewRegistry())
	m.ObserveMessage("ok")
	srv, err := NewServer(domain.GatewayConfig{AuthToken: "my-secret"}, nil, WithMetrics(m))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if rec := get(t, srv.Handler(), "/metrics", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: want 401, got %d", rec.Code)
	}
	if rec := get(t, srv.Handler(), "/metrics", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: want 401, got %d", rec.Code)
	}
	rec := get(t, srv.Handler(), "/metrics", "my-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("correct token: want 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `relaybot_messages_total{outcome="ok"} 1`) {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestServer_Metrics_WhenNoMetrics_ShouldReturn404(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if rec := get(t, srv.Handler(), "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("want 404, got %d", rec.Code)
	}
}

func TestServer_WS_WhenAuthTokenSet_ShouldRejectAnonymousUpgrade(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{AuthToken: "my-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if rec := get(t, srv.Handler(), "/ws", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("want 401, got %d", rec.Code)
	}
}

func TestServe_ShouldServeUntilContextDone(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{Port: 9999}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	fl := newFakeListener()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, fl) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := srv.Addr(); got != fl.addr.String() {
		t.Errorf("Addr(): want %s, got %s", fl.addr, got)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve after cancel: want nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_WhenListenFails_ShouldReturnError(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	listenErr := errors.New("listen failed")
	oldListen := netListen
	netListen = func(network, address string) (net.Listener, error) {
		return nil, listenErr
	}
	defer func() { netListen = oldListen }()

	if err := srv.Run(context.Background()); !errors.Is(err, listenErr) {
		t.Errorf("Run when Listen fails: want %v, got %v", listenErr, err)
	}
}

func TestRun_WhenListenSucceeds_ShouldUseConfiguredPort(t *testing.T) {
	srv, err := NewServer(domain.GatewayConfig{Port: 8123}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	var gotAddr string
	oldListen := netListen
	netListen = func(network, address string) (net.Listener, error) {
		gotAddr = address
		return newFakeListener(), nil
	}
	defer func() { netListen = oldListen }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.Run(ctx); err != nil {
		t.Errorf("Run: want nil, got %v", err)
	}
	if gotAddr != ":8123" {
		t.Errorf("want :8123, got %q", gotAddr)
	}
}
