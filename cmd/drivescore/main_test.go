package main

import (
	"log/slog"
	"testing"
)

func TestRun_Demo(t *testing.T) {
	if code := run([]string{"--days", "3", "--verbosity", "0"}); code != 0 {
		t.Errorf("run = %d, want 0", code)
	}
}

func TestRun_WithStreakBreaks(t *testing.T) {
	if code := run([]string{"--days", "6", "--skip", "3", "--verbosity", "0"}); code != 0 {
		t.Errorf("run = %d, want 0", code)
	}
}

func TestRun_BadFlag(t *testing.T) {
	if code := run([]string{"--nope"}); code != 2 {
		t.Errorf("run = %d, want 2", code)
	}
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		v    int
		want slog.Level
	}{
		{0, slog.LevelError},
		{1, slog.LevelWarn},
		{3, slog.LevelInfo},
		{5, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := verbosityToLevel(tt.v); got != tt.want {
			t.Errorf("verbosityToLevel(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
