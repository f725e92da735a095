package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestReserver(t *testing.T) (*CodeReserver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewCodeReserver(client), mr
}

func TestNewReturnsNilWithoutURL(t *testing.T) {
	client, err := New("")
	if err != nil {
		t.Fatalf("New with empty URL: %v", err)
	}
	if client != nil {
		t.Fatal("empty URL must yield a nil client")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReserveClaimsCodeOnce(t *testing.T) {
	reserver, _ := setupTestReserver(t)
	ctx := context.Background()

	ok, err := reserver.Reserve(ctx, "1234")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first reservation must succeed")
	}

	ok, err = reserver.Reserve(ctx, "1234")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second reservation of the same code must fail")
	}

	// A different code is unaffected.
	ok, err = reserver.Reserve(ctx, "5678")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("unrelated code must still be reservable")
	}
}

func TestReserveExpiresEventually(t *testing.T) {
	reserver, mr := setupTestReserver(t)
	ctx := context.Background()

	if ok, err := reserver.Reserve(ctx, "4321"); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	mr.FastForward(reserver.ttl)

	ok, err := reserver.Reserve(ctx, "4321")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("code must be reservable again after the TTL")
	}
}
