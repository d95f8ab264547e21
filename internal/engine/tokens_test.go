package engine

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "one char rounds up", text: "a", want: 1},
		{name: "exact multiple", text: "abcd", want: 1},
		{name: "five chars", text: "abcde", want: 2},
		{name: "long text", text: strings.Repeat("x", 4000), want: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
			}
		})
	}
}

func TestFitsContextWindow(t *testing.T) {
	docs := []SourceDocument{
		{ID: "d1", TokenEstimate: 400},
		{ID: "d2", TokenEstimate: 600},
	}

	if got := EstimateDocumentTokens(docs); got != 1000 {
		t.Fatalf("EstimateDocumentTokens = %d, want 1000", got)
	}

	t.Run("fits with envelope headroom", func(t *testing.T) {
		if !FitsContextWindow(docs, 2000) {
			t.Error("expected documents to fit a 2000 token window")
		}
	})

	t.Run("envelope pushes over the limit", func(t *testing.T) {
		// 1000 document tokens fit 1200 alone but not with the
		// reserved envelope.
		if FitsContextWindow(docs, 1200) {
			t.Error("expected envelope overhead to overflow a 1200 token window")
		}
	})

	t.Run("no declared limit admits everything", func(t *testing.T) {
		if !FitsContextWindow(docs, 0) {
			t.Error("zero limit should skip admission control")
		}
		if !FitsContextWindow(docs, -1) {
			t.Error("negative limit should skip admission control")
		}
	})

	t.Run("empty document set", func(t *testing.T) {
		if !FitsContextWindow(nil, 600) {
			t.Error("empty set should fit any window above the envelope")
		}
	})
}
