package mq_test

import (
	"testing"
	"time"

	"codejudger/internal/common/mq"
)

func TestComputeBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		retry     int
		base, max time.Duration
		want      time.Duration
	}{
		{0, 100 * time.Millisecond, time.Second, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, time.Second, 200 * time.Millisecond},
		{3, 100 * time.Millisecond, time.Second, 800 * time.Millisecond},
		{10, 100 * time.Millisecond, time.Second, time.Second},
		{3, 500 * time.Millisecond, 10 * time.Second, 4 * time.Second},
		{50, 500 * time.Millisecond, 10 * time.Second, 10 * time.Second},
		{4, time.Millisecond, 0, 16 * time.Millisecond},
		{2, 0, time.Second, 0},
	}
	for _, tt := range tests {
		if got := mq.ComputeBackoff(tt.retry, tt.base, tt.max); got != tt.want {
			t.Fatalf("ComputeBackoff(%d, %v, %v) = %v, want %v", tt.retry, tt.base, tt.max, got, tt.want)
		}
	}
}
