package resolver

import (
	"fmt"
	"sync"
	"testing"
)

func TestMatchCache_EvictsLeastRecentLookup(t *testing.T) {
	c := newMatchCache(2)
	roots := []string{"/app/node_modules"}

	sharp := newLookupKey("sharp", roots)
	canvas := newLookupKey("canvas", roots)
	c.store(sharp, []BinaryMatch{{Package: "sharp", Path: "/app/node_modules/sharp/sharp.node"}})
	c.store(canvas, nil)

	// Touch sharp so canvas becomes the eviction candidate.
	c.lookup(sharp)
	c.store(newLookupKey("bcrypt", roots), nil)

	if c.size() != 2 {
		t.Fatalf("expected size 2, got %d", c.size())
	}
	if _, ok := c.lookup(canvas); ok {
		t.Fatal("expected canvas lookup to be evicted")
	}
	if got, ok := c.lookup(sharp); !ok || len(got) != 1 {
		t.Fatalf("expected sharp lookup to survive, got %v (ok=%v)", got, ok)
	}
}

func TestMatchCache_KeyIncludesRootOrder(t *testing.T) {
	c := newMatchCache(4)
	c.store(newLookupKey("sharp", []string{"/a", "/b"}), []BinaryMatch{{Path: "/a/sharp/x.node"}})

	if _, ok := c.lookup(newLookupKey("sharp", []string{"/b", "/a"})); ok {
		t.Fatal("expected a different root order to miss")
	}
}

func TestMatchCache_ReturnsCopies(t *testing.T) {
	c := newMatchCache(0)
	key := newLookupKey("sharp", []string{"/nm"})
	stored := []BinaryMatch{{Path: "/nm/sharp/sharp.node"}}
	c.store(key, stored)
	stored[0].Path = "mutated"

	got, ok := c.lookup(key)
	if !ok || got[0].Path != "/nm/sharp/sharp.node" {
		t.Fatalf("expected stored copy, got %v", got)
	}
	got[0].Path = "mutated again"
	again, _ := c.lookup(key)
	if again[0].Path != "/nm/sharp/sharp.node" {
		t.Fatalf("expected lookup to return a copy, got %v", again)
	}

	c.store(key, nil)
	if c.size() != 1 {
		t.Fatalf("expected capacity normalised to 1 and size 1, got %d", c.size())
	}
	c.reset()
	if _, ok := c.lookup(key); ok {
		t.Fatal("expected empty cache after reset")
	}
}

func TestMatchCache_ConcurrentAccess(t *testing.T) {
	const workers = 20
	const ops = 100
	c := newMatchCache(50)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := newLookupKey(fmt.Sprintf("pkg-%d", (id*ops+i)%80), []string{"/nm"})
				c.store(key, []BinaryMatch{{Package: key.pkg}})
				c.lookup(key)
			}
		}(w)
	}
	wg.Wait()
	if c.size() > 50 {
		t.Fatalf("size %d exceeds capacity after concurrent use", c.size())
	}
}
