package types

import (
	"math"
	"strings"
	"testing"
)

func TestClamp01(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"in range", 0.42, 0.42},
		{"below", -3, 0},
		{"above", 1.7, 1},
		{"zero", 0, 0},
		{"one", 1, 1},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp01(tt.in); got != tt.want {
				t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestThresholdSetValue(t *testing.T) {
	set := ThresholdSet{"min_confidence": 0.6}

	if got := set.Value("min_confidence", 0.1); got != 0.6 {
		t.Errorf("Value() = %v, want 0.6", got)
	}
	if got := set.Value("missing", 0.1); got != 0.1 {
		t.Errorf("Value() fallback = %v, want 0.1", got)
	}
}

func TestThresholdSetClone(t *testing.T) {
	set := ThresholdSet{"max_drift": 0.4}
	clone := set.Clone()
	clone["max_drift"] = 0.9

	if set["max_drift"] != 0.4 {
		t.Error("Clone() did not produce an independent copy")
	}
}

func TestNewLoopID(t *testing.T) {
	a := NewLoopID()
	b := NewLoopID()

	if !strings.HasPrefix(a, "loop-") {
		t.Errorf("NewLoopID() = %q, want loop- prefix", a)
	}
	if a == b {
		t.Errorf("NewLoopID() produced duplicate id %q", a)
	}
}
