package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	for in, want := range map[float64]string{
		0:                 "0 B/s",
		-1:                "0 B/s",
		512:               "512 B/s",
		1024:              "1.0 KiB/s",
		1.5 * 1024 * 1024: "1.5 MiB/s",
		2.5 * (1 << 30):   "2.5 GiB/s",
	} {
		assert.Equal(t, want, FormatRate(in), "rate %v", in)
	}
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "--", FormatETA(0))
	assert.Equal(t, "--", FormatETA(-time.Second))
	assert.Equal(t, "1m 30s", FormatETA(90*time.Second))
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{14302, "14,302"},
		{1000000, "1,000,000"},
		{-1000, "-1,000"},
		{-12, "-12"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCount(tt.input))
		})
	}
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▪▪▪□□□", ProgressBar(0.5, 6))
	assert.Equal(t, "□□□□", ProgressBar(-1, 4))
	assert.Equal(t, "▪▪▪▪", ProgressBar(1.5, 4))
	assert.Empty(t, ProgressBar(0.5, 0))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "3m 17s", FormatDuration(3*time.Minute+17*time.Second))
	assert.Equal(t, "1h 01m 01s", FormatDuration(3661*time.Second))
}
