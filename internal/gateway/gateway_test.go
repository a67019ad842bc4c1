package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/sidekick/internal/channels"
)

type captureInbound struct {
	mu   sync.Mutex
	msgs []channels.InboundMessage
}

func (c *captureInbound) Accept(msg channels.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureInbound) all() []channels.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channels.InboundMessage(nil), c.msgs...)
}

func newTestServer(token string) (*Server, *captureInbound) {
	inbound := &captureInbound{}
	s := New(Config{WebhookToken: token, MetricsEnabled: true}, inbound, prometheus.NewRegistry(), nil)
	return s, inbound
}

func TestWebhookAccepted(t *testing.T) {
	s, inbound := newTestServer("")

	body := `{"external_id":"wamid.5","from":"user1","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := inbound.all()
	if len(got) != 1 || got[0].ExternalID != "wamid.5" || got[0].From != "user1" || got[0].Text != "hello" {
		t.Fatalf("accepted = %+v", got)
	}
}

func TestWebhookAuth(t *testing.T) {
	s, inbound := newTestServer("secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"from":"u","text":"x"}`))
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"from":"u","text":"x"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.handleWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(inbound.all()) != 1 {
		t.Fatal("authorized message not accepted")
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	s, inbound := newTestServer("")

	for _, body := range []string{`not json`, `{"from":"","text":"x"}`, `{"from":"u","text":""}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleWebhook(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	if len(inbound.all()) != 0 {
		t.Fatal("bad payloads must not reach the dispatcher")
	}
}

func TestWebhookMethod(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer("")
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}
