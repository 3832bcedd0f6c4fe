package engine

import (
	"context"
	"testing"
	"time"
)

func TestOrderDedup_FirstSeenOnce(t *testing.T) {
	client, _ := setupRedis(t)
	dedup := NewOrderDedup(client, time.Hour, testLogger())
	ctx := context.Background()

	if !dedup.FirstSeen(ctx, "order-100") {
		t.Fatal("first delivery should be reported as new")
	}
	if dedup.FirstSeen(ctx, "order-100") {
		t.Error("second delivery of the same order should be suppressed")
	}
	if !dedup.FirstSeen(ctx, "order-101") {
		t.Error("a different order id should be new")
	}
}

func TestOrderDedup_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupRedis(t)
	dedup := NewOrderDedup(client, time.Minute, testLogger())
	ctx := context.Background()

	dedup.FirstSeen(ctx, "order-200")
	mr.FastForward(2 * time.Minute)

	// Past the TTL the fast path forgets; the store's converted guard is the
	// durable protection.
	if !dedup.FirstSeen(ctx, "order-200") {
		t.Error("dedup entry should expire with its TTL")
	}
}

func TestOrderDedup_FailsOpenWithoutRedis(t *testing.T) {
	client, _ := setupRedis(t)
	dedup := NewOrderDedup(client, time.Hour, testLogger())
	client.Close()

	if !dedup.FirstSeen(context.Background(), "order-300") {
		t.Error("dedup must fail open when Redis is unreachable")
	}
}
