package clock

import (
	"sync"
	"testing"
)

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want CompareResult
	}{
		{"equal", Version{1, 5, 2}, Version{1, 5, 2}, Equal},
		{"topology wins", Version{2, 1, 1}, Version{1, 9, 9}, After},
		{"order breaks topology tie", Version{1, 3, 1}, Version{1, 4, 1}, Before},
		{"node order breaks order tie", Version{1, 4, 3}, Version{1, 4, 2}, After},
		{"zero before anything", Version{}, Version{0, 1, 0}, Before},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestVersion_CompareAntisymmetric(t *testing.T) {
	versions := []Version{{}, {1, 1, 1}, {1, 2, 1}, {2, 0, 0}, {1, 1, 2}}

	for _, a := range versions {
		for _, b := range versions {
			ab := a.Compare(b)
			ba := b.Compare(a)
			switch ab {
			case Before:
				if ba != After {
					t.Errorf("%s before %s but reverse is %v", a, b, ba)
				}
			case After:
				if ba != Before {
					t.Errorf("%s after %s but reverse is %v", a, b, ba)
				}
			case Equal:
				if ba != Equal || a != b {
					t.Errorf("%s equal %s but reverse is %v", a, b, ba)
				}
			}
		}
	}
}

func TestNodeVersions_Agree(t *testing.T) {
	v := Version{1, 1, 1}

	if !(NodeVersions{}).Agree() {
		t.Error("Expected empty set to agree")
	}
	if !(NodeVersions{"n1": v, "n2": v}).Agree() {
		t.Error("Expected identical versions to agree")
	}
	if (NodeVersions{"n1": v, "n2": {}}).Agree() {
		t.Error("Expected missing replica to disagree")
	}
	if !(NodeVersions{"n1": {}, "n2": {}}).Agree() {
		t.Error("Expected key absent everywhere to agree")
	}
}

func TestNodeVersions_Max(t *testing.T) {
	nv := NodeVersions{"n1": {1, 3, 1}, "n2": {1, 7, 2}, "n3": {}}

	if got := nv.Max(); got != (Version{1, 7, 2}) {
		t.Errorf("Expected max 1.7@2, got %s", got)
	}
	if got := (NodeVersions{"n1": {}}).Max(); !got.IsZero() {
		t.Errorf("Expected zero max, got %s", got)
	}
}

func TestVersionMap_CopyIsDeep(t *testing.T) {
	m := VersionMap{"k": {"n1": {1, 1, 1}}}
	cp := m.Copy()
	cp["k"]["n1"] = Version{9, 9, 9}

	if m["k"]["n1"] != (Version{1, 1, 1}) {
		t.Error("Copy shares inner maps with the original")
	}
}

func TestVersionMap_KeysSorted(t *testing.T) {
	m := VersionMap{"b": nil, "a": nil, "c": nil}
	keys := m.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Expected sorted keys, got %v", keys)
	}
}

func TestNodeVersions_String(t *testing.T) {
	nv := NodeVersions{"n2": {}, "n1": {1, 2, 3}}
	if got, want := nv.String(), "{n1:1.2@3, n2:<absent>}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestGenerator_Monotonic(t *testing.T) {
	g := NewGenerator(3)
	prev := g.Next(1)
	for i := 0; i < 100; i++ {
		next := g.Next(1)
		if !next.After(prev) {
			t.Fatalf("Expected %s after %s", next, prev)
		}
		prev = next
	}
}

func TestGenerator_Observe(t *testing.T) {
	g := NewGenerator(1)
	g.Observe(Version{Topology: 1, Order: 41, NodeOrder: 2})

	next := g.Next(1)
	if next.Order != 42 {
		t.Errorf("Expected order 42 after observing 41, got %d", next.Order)
	}

	// Observing an older version must not move the counter back.
	g.Observe(Version{Topology: 1, Order: 5, NodeOrder: 2})
	if again := g.Next(1); again.Order != 43 {
		t.Errorf("Expected order 43, got %d", again.Order)
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := NewGenerator(1)

	var mu sync.Mutex
	seen := make(map[Version]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := g.Next(1)
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("Expected 800 unique versions, got %d", len(seen))
	}
}
