package cache

import (
	"fmt"
	"testing"
)

func TestLRU_GetPut(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c.Put("a", "1")
	c.Put("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}

	// "b" is now least recently used.
	c.Put("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d", c.Len())
	}
}

func TestLRU_Disabled(t *testing.T) {
	for _, size := range []int{0, -5} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			c, err := New(size)
			if err != nil {
				t.Fatalf("New(%d) error: %v", size, err)
			}
			if c.Enabled() {
				t.Error("cache should be disabled")
			}
			c.Put("k", "v")
			if _, ok := c.Get("k"); ok {
				t.Error("disabled cache returned a value")
			}
		})
	}
}

func TestKey(t *testing.T) {
	base := Key("en", "de", "hello", false)
	if base == "" || len(base) > 16 {
		t.Errorf("key = %q, want up to 16 hex chars", base)
	}
	if base != Key("en", "de", "hello", false) {
		t.Error("key is not deterministic")
	}

	others := []string{
		Key("en", "de", "hello", true),
		Key("en", "fr", "hello", false),
		Key("de", "en", "hello", false),
		Key("en", "dehello", "", false),
		Key("e", "nde", "hello", false),
	}
	for i, k := range others {
		if k == base {
			t.Errorf("variant %d collides with base key", i)
		}
	}
}
