package agent_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/danmuck/agentctl/internal/testutil/agenttest"
	"github.com/danmuck/agentctl/internal/testutil/testlog"
	"golang.org/x/crypto/ssh"
)

func startSession(t *testing.T) (*agent.Session, *agenttest.Agent) {
	t.Helper()
	return startSessionWith(t, agenttest.New(), agent.DefaultConfig())
}

func startSessionWith(t *testing.T, fake *agenttest.Agent, cfg agent.Config) (*agent.Session, *agenttest.Agent) {
	t.Helper()
	conn := fake.Dial(t)
	control, responses, client := agent.NewClient(cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Run(context.Background(), conn)
	}()
	s := agent.NewSession(control, responses)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("client run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("client did not stop")
		}
	})
	return s, fake
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func addKey(t *testing.T, s *agent.Session, comment string) []byte {
	t.Helper()
	priv, pubBlob := agenttest.NewEd25519(t)
	keyType, blob, err := agent.EncodePrivateKey(priv)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	if err := s.Add(testContext(t), keyType, blob, comment); err != nil {
		t.Fatalf("add: %v", err)
	}
	return pubBlob
}

func TestSessionAddListRemove(t *testing.T) {
	testlog.Start(t)
	s, fake := startSession(t)
	ctx := testContext(t)

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty agent, got %d identities", len(ids))
	}

	pubBlob := addKey(t, s, "dev@host")
	ids, err = s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || !bytes.Equal(ids[0].KeyBlob, pubBlob) || ids[0].Comment != "dev@host" {
		t.Fatalf("unexpected identities %+v", ids)
	}

	if err := s.Remove(ctx, pubBlob); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, pubBlob); !errors.Is(err, agent.ErrAgentFailure) {
		t.Fatalf("expected ErrAgentFailure removing missing key, got %v", err)
	}
	if len(fake.Keys()) != 0 {
		t.Fatalf("expected no keys after remove")
	}
}

func TestSessionAddConstrained(t *testing.T) {
	testlog.Start(t)
	s, fake := startSession(t)
	ctx := testContext(t)

	priv, _ := agenttest.NewEd25519(t)
	keyType, blob, err := agent.EncodePrivateKey(priv)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	if err := s.AddConstrained(ctx, keyType, blob, "ci", agent.Lifetime(300), agent.Confirm()); err != nil {
		t.Fatalf("add constrained: %v", err)
	}
	keys := fake.Keys()
	if len(keys) != 1 || len(keys[0].Constraints) != 2 {
		t.Fatalf("expected one key with two constraints, got %+v", keys)
	}
	if keys[0].Constraints[0].String() != "lifetime(300s)" || keys[0].Constraints[1].String() != "confirm" {
		t.Fatalf("unexpected constraints %v", keys[0].Constraints)
	}
	reqs := fake.Requests()
	if reqs[len(reqs)-1].Payload()[0] != 25 {
		t.Fatalf("expected constrained add request, got %s", reqs[len(reqs)-1])
	}
}

func TestSessionSignVerifies(t *testing.T) {
	testlog.Start(t)
	s, _ := startSession(t)
	ctx := testContext(t)

	pubBlob := addKey(t, s, "signer")
	data := []byte("session data")
	sigBlob, err := s.Sign(ctx, pubBlob, data, 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := agent.SignResponse{Signature: sigBlob}.ParseSignature()
	if err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	pub, err := ssh.ParsePublicKey(pubBlob)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if err := pub.Verify(data, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := s.Sign(ctx, []byte("unknown"), data, 0); !errors.Is(err, agent.ErrAgentFailure) {
		t.Fatalf("expected ErrAgentFailure for unknown key, got %v", err)
	}
}

func TestSessionLockUnlock(t *testing.T) {
	testlog.Start(t)
	s, fake := startSession(t)
	ctx := testContext(t)

	addKey(t, s, "locked")
	if err := s.Lock(ctx, []byte("test")); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !fake.Locked() {
		t.Fatalf("expected agent locked")
	}
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list while locked: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("locked agent listed %d identities", len(ids))
	}
	if err := s.Unlock(ctx, []byte("wrong")); !errors.Is(err, agent.ErrAgentFailure) {
		t.Fatalf("expected ErrAgentFailure for wrong passphrase, got %v", err)
	}
	if err := s.Unlock(ctx, []byte("test")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ids, err = s.List(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected key back after unlock ids=%d err=%v", len(ids), err)
	}
}

func TestSessionRemoveAll(t *testing.T) {
	testlog.Start(t)
	s, fake := startSession(t)
	ctx := testContext(t)

	addKey(t, s, "one")
	addKey(t, s, "two")
	if len(fake.Keys()) != 2 {
		t.Fatalf("expected two keys")
	}
	if err := s.RemoveAll(ctx); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if len(fake.Keys()) != 0 {
		t.Fatalf("expected no keys after remove all")
	}
}

func TestSessionSurvivesOversizeAnswer(t *testing.T) {
	testlog.Start(t)
	fake := agenttest.New()
	fake.Preload(t, "a comment long enough to push the answer past the limit")
	cfg := agent.DefaultConfig()
	cfg.Limits.MaxPayloadBytes = 64
	s, _ := startSessionWith(t, fake, cfg)
	ctx := testContext(t)

	if _, err := s.List(ctx); !errors.Is(err, agent.ErrMalformedResponse) || !errors.Is(err, packet.ErrPayloadTooLarge) {
		t.Fatalf("expected malformed oversize answer, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Lock(ctx, []byte("pw")); err != nil {
			t.Fatalf("lock %d: %v", i, err)
		}
		if err := s.Unlock(ctx, []byte("pw")); err != nil {
			t.Fatalf("unlock %d: %v", i, err)
		}
	}
}

func TestSessionRefusesOversizeRequest(t *testing.T) {
	testlog.Start(t)
	s, fake := startSession(t)
	ctx := testContext(t)

	err := s.Unlock(ctx, bytes.Repeat([]byte("x"), 300<<10))
	if !errors.Is(err, agent.ErrRequestTooLarge) {
		t.Fatalf("expected ErrRequestTooLarge, got %v", err)
	}
	if n := len(fake.Requests()); n != 0 {
		t.Fatalf("oversize request reached the agent, %d requests", n)
	}
	if _, err := s.List(ctx); err != nil {
		t.Fatalf("list after refusal: %v", err)
	}
}
