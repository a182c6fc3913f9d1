package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/config"
	"github.com/danmuck/agentctl/internal/testutil/agenttest"
	"github.com/danmuck/agentctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T) (*Server, *agent.Session, *agenttest.Agent) {
	t.Helper()
	fake := agenttest.New()
	conn := fake.Dial(t)
	control, responses, client := agent.NewClient(agent.DefaultConfig())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(context.Background(), conn)
	}()
	session := agent.NewSession(control, responses)
	t.Cleanup(func() {
		_ = session.Shutdown(context.Background())
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("client did not stop")
		}
	})

	s := New(session, config.BridgeConfig{Addr: "127.0.0.1:0"}, 2*time.Second)
	s.SetReady(true)
	return s, session, fake
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t)

	if rr := do(t, s, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health status %d", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/ready", ""); rr.Code != http.StatusOK {
		t.Fatalf("ready status %d", rr.Code)
	}
	s.SetReady(false)
	if rr := do(t, s, http.MethodGet, "/ready", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", rr.Code)
	}
}

func TestIdentitiesListsAddedKey(t *testing.T) {
	testlog.Start(t)
	s, session, _ := newTestServer(t)

	priv, _ := agenttest.NewEd25519(t)
	keyType, blob, err := agent.EncodePrivateKey(priv)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	if err := session.Add(context.Background(), keyType, blob, "bridge@test"); err != nil {
		t.Fatalf("add: %v", err)
	}

	rr := do(t, s, http.MethodGet, "/identities", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("identities status %d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Identities []IdentityInfo `json:"identities"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Identities) != 1 {
		t.Fatalf("expected one identity, got %+v", body.Identities)
	}
	id := body.Identities[0]
	if id.Type != "ssh-ed25519" || id.Comment != "bridge@test" || !strings.HasPrefix(id.Fingerprint, "SHA256:") {
		t.Fatalf("unexpected identity %+v", id)
	}
	if !strings.HasPrefix(id.AuthorizedKey, "ssh-ed25519 ") {
		t.Fatalf("unexpected authorized key %q", id.AuthorizedKey)
	}
}

func TestLockUnlockRoutes(t *testing.T) {
	testlog.Start(t)
	s, _, fake := newTestServer(t)

	if rr := do(t, s, http.MethodPost, "/lock", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without passphrase, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/lock", `{"passphrase":"test"}`); rr.Code != http.StatusOK {
		t.Fatalf("lock status %d body=%s", rr.Code, rr.Body.String())
	}
	if !fake.Locked() {
		t.Fatalf("expected agent locked")
	}
	if rr := do(t, s, http.MethodPost, "/unlock", `{"passphrase":"nope"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for wrong passphrase, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/unlock", `{"passphrase":"test"}`); rr.Code != http.StatusOK {
		t.Fatalf("unlock status %d body=%s", rr.Code, rr.Body.String())
	}
	if fake.Locked() {
		t.Fatalf("expected agent unlocked")
	}
}

func TestMetricsRoute(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t)

	_ = do(t, s, http.MethodGet, "/health", "")
	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "agentctl_http_requests_total") {
		t.Fatalf("metrics output missing http counter")
	}
}

func TestAgentRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	fake := agenttest.New()
	conn := fake.Dial(t)
	control, responses, client := agent.NewClient(agent.DefaultConfig())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(context.Background(), conn)
	}()
	session := agent.NewSession(control, responses)
	t.Cleanup(func() {
		_ = session.Shutdown(context.Background())
		<-done
	})
	s := New(session, config.BridgeConfig{Addr: "127.0.0.1:0", Token: "s3cret"}, 2*time.Second)

	if rr := do(t, s, http.MethodGet, "/identities", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health should stay open, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/identities", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fake.Requests()) != 1 {
		t.Fatalf("expected exactly one agent request, got %d", len(fake.Requests()))
	}
}

func TestUnlockRejectsOversizeBody(t *testing.T) {
	testlog.Start(t)
	s, _, fake := newTestServer(t)

	body := `{"passphrase":"` + strings.Repeat("x", 300<<10) + `"}`
	if rr := do(t, s, http.MethodPost, "/unlock", body); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := len(fake.Requests()); n != 0 {
		t.Fatalf("oversize body reached the agent, %d requests", n)
	}
	if rr := do(t, s, http.MethodGet, "/identities", ""); rr.Code != http.StatusOK {
		t.Fatalf("identities after refusal: %d %s", rr.Code, rr.Body.String())
	}
}

func TestFailMapsRequestTooLarge(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	s.fail(c, "unlock", fmt.Errorf("%w: unlock", agent.ErrRequestTooLarge))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
