package repair

import (
	"testing"

	"partrecon/internal/clock"
)

func TestDivergent(t *testing.T) {
	v1 := clock.Version{Topology: 1, Order: 1, NodeOrder: 1}
	v2 := clock.Version{Topology: 1, Order: 2, NodeOrder: 1}

	tests := []struct {
		name     string
		source   clock.Version
		observed clock.NodeVersions
		want     []string
	}{
		{"all match", v2, clock.NodeVersions{"p": v2, "b1": v2, "b2": v2}, nil},
		{"one stale", v2, clock.NodeVersions{"p": v2, "b1": v1, "b2": v2}, []string{"b1"}},
		{"primary moved on", v2, clock.NodeVersions{"p": v1, "b1": v1, "b2": v1}, []string{"b1", "b2"}},
		{"primary absent", clock.Version{}, clock.NodeVersions{"p": {}, "b2": v1, "b1": v2}, []string{"b1", "b2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Divergent("p", tt.source, tt.observed)
			if len(got) != len(tt.want) {
				t.Fatalf("Divergent() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Divergent() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	if Repaired.String() != "repaired" || Skipped.String() != "skipped" || Failed.String() != "failed" {
		t.Errorf("unexpected outcome names: %s %s %s", Repaired, Skipped, Failed)
	}
}
