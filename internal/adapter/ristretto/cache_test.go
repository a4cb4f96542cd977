package ristretto

import (
	"context"
	"testing"
	"time"
)

// waitGet polls for a key: ristretto admits writes asynchronously.
func waitGet(t *testing.T, c *Cache, key string) ([]byte, bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if val, ok, err := c.Get(ctx, key); err != nil {
			t.Fatal(err)
		} else if ok {
			return val, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}

func TestSetAndGet(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok := waitGet(t, c, "k")
	if !ok || string(val) != "v" {
		t.Fatalf("expected v, got %q ok=%v", val, ok)
	}
}

func TestGetMiss(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := waitGet(t, c, "k"); !ok {
		t.Fatal("value never admitted")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after delete")
	}

	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "never-existed"); err != nil {
		t.Fatal(err)
	}
}
