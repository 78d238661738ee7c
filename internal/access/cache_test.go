package access

import (
	"testing"
	"time"
)

func TestCacheTTLAndSweep(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(45*time.Second, clk.now)

	c.Put("c1", "alice", Grant{}, c.Generation("c1"))
	c.Put("c1", "bob", Grant{}, c.Generation("c1"))
	clk.advance(30 * time.Second)
	c.Put("c2", "alice", Grant{}, c.Generation("c2"))

	if _, ok := c.Get("c1", "alice"); !ok {
		t.Fatal("entry expired early")
	}
	clk.advance(20 * time.Second)
	if _, ok := c.Get("c1", "alice"); ok {
		t.Fatal("entry served after TTL")
	}
	if n := c.Sweep(); n != 2 {
		t.Errorf("got %d swept, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("got %d entries, want 1", c.Len())
	}
}

// A check that read the store before an invalidation must not put its stale
// result back into the cache afterwards.
func TestCachePutAfterInvalidationIsDropped(t *testing.T) {
	c := NewCache(time.Minute, nil)

	gen := c.Generation("c1")
	c.InvalidateMember("c1", "bob")
	if c.Put("c1", "bob", Grant{}, gen) {
		t.Fatal("stale put accepted")
	}
	if _, ok := c.Get("c1", "bob"); ok {
		t.Fatal("stale grant cached")
	}

	if !c.Put("c1", "bob", Grant{}, c.Generation("c1")) {
		t.Fatal("fresh put rejected")
	}
}

func TestCacheInvalidateConversation(t *testing.T) {
	c := NewCache(time.Minute, nil)
	for _, u := range []string{"a", "b", "c"} {
		c.Put("c1", u, Grant{}, c.Generation("c1"))
	}
	c.Put("c2", "a", Grant{}, c.Generation("c2"))

	c.InvalidateConversation("c1")
	if c.Len() != 1 {
		t.Fatalf("got %d entries, want 1", c.Len())
	}
	if _, ok := c.Get("c2", "a"); !ok {
		t.Error("other conversation evicted")
	}
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0, nil)
	if c.Put("c1", "a", Grant{}, 0) {
		t.Error("zero TTL must disable caching")
	}
}
