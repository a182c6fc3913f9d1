package agent

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/agentctl/internal/protocol/wire"
)

func TestLifetimeEncoding(t *testing.T) {
	got := Lifetime(1000).Payload()
	want := []byte{1, 0, 0, 3, 0xE8}
	if !bytes.Equal(got, want) {
		t.Fatalf("lifetime got=%v want=%v", got, want)
	}
	if s := Lifetime(1000).String(); s != "lifetime(1000s)" {
		t.Fatalf("lifetime string %q", s)
	}
}

func TestConfirmEncoding(t *testing.T) {
	if got := Confirm().Payload(); !bytes.Equal(got, []byte{2}) {
		t.Fatalf("confirm got=%v", got)
	}
}

func TestJoinAndParseConstraints(t *testing.T) {
	joined := JoinConstraints(Lifetime(60), Confirm())
	want := []byte{1, 0, 0, 0, 60, 2}
	if !bytes.Equal(joined, want) {
		t.Fatalf("joined got=%v want=%v", joined, want)
	}

	parsed, err := ParseConstraints(joined)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 || parsed[0].String() != "lifetime(60s)" || parsed[1].String() != "confirm" {
		t.Fatalf("unexpected constraints %v", parsed)
	}

	if out, err := ParseConstraints(nil); err != nil || len(out) != 0 {
		t.Fatalf("empty constraints out=%v err=%v", out, err)
	}
}

func TestParseConstraintsRejectsBadInput(t *testing.T) {
	if _, err := ParseConstraints([]byte{9}); !errors.Is(err, ErrInvalidConstraint) {
		t.Fatalf("expected ErrInvalidConstraint for unknown tag, got %v", err)
	}
	_, err := ParseConstraints([]byte{1, 0, 0})
	if !errors.Is(err, ErrInvalidConstraint) || !errors.Is(err, wire.ErrTruncated) {
		t.Fatalf("expected truncated lifetime error, got %v", err)
	}
}
