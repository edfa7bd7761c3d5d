package store

import (
	"math"
	"testing"
)

func TestClampInt64(t *testing.T) {
	tests := []struct {
		name string
		in   uint64
		want int64
	}{
		{name: "zero", in: 0, want: 0},
		{name: "small value passes through", in: 1500, want: 1500},
		{name: "max int64 passes through", in: math.MaxInt64, want: math.MaxInt64},
		{name: "saturated uint64 clamps", in: math.MaxUint64, want: math.MaxInt64},
		{name: "just above int64 clamps", in: math.MaxInt64 + 1, want: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampInt64(tt.in); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
