package callback

import (
	"testing"
	"time"

	"codejudger/pkg/errors"
)

func TestSignerRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewSigner("s3cret", time.Hour)
	token, err := s.Mint("sub-1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := s.Verify(token, "sub-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.Verify(token, "sub-2"); !errors.Is(err, errors.CallbackToken) {
		t.Fatalf("token accepted for another submission: %v", err)
	}
	if err := NewSigner("other", time.Hour).Verify(token, "sub-1"); err == nil {
		t.Fatalf("token accepted with a different secret")
	}
}

func TestSignerExpiry(t *testing.T) {
	t.Parallel()
	s := NewSigner("s3cret", time.Minute)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	token, err := s.Mint("sub-1")
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	err = s.Verify(token, "sub-1")
	if !errors.Is(err, errors.CallbackToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestNilSignerMintsNothing(t *testing.T) {
	t.Parallel()
	s := NewSigner("", 0)
	if s != nil {
		t.Fatalf("expected nil signer without secret")
	}
	token, err := s.Mint("x")
	if token != "" || err != nil {
		t.Fatalf("nil signer minted %q %v", token, err)
	}
}
