package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThroughputMbps(t *testing.T) {
	tests := []struct {
		name       string
		fileSizeMB int
		duration   time.Duration
		want       float64
	}{
		{name: "10MB in one second", fileSizeMB: 10, duration: time.Second, want: 83.88608},
		{name: "zero duration", fileSizeMB: 10, duration: 0, want: 0},
		{name: "negative duration", fileSizeMB: 10, duration: -time.Second, want: 0},
		{name: "100MB in ten seconds", fileSizeMB: 100, duration: 10 * time.Second, want: 83.88608},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, throughputMbps(tt.fileSizeMB, tt.duration), 0.0001)
		})
	}
}
