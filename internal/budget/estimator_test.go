package budget

import (
	"strings"
	"testing"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

func TestEstimateText(t *testing.T) {
	cases := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{strings.Repeat("x", 401), 101},
	}
	for _, tc := range cases {
		if got := EstimateText(tc.text); got != tc.want {
			t.Errorf("EstimateText(len %d) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestEstimateMessageAddsOverhead(t *testing.T) {
	msg := models.Message{Content: "abcdefgh"} // 2 tokens of content
	if got := EstimateMessage(msg); got != 6 {
		t.Errorf("EstimateMessage = %d, want 6 (2 content + 4 overhead)", got)
	}
}

func TestEstimateMessagesSums(t *testing.T) {
	msgs := []models.Message{
		{Content: "abcd"},
		{Content: ""},
		{Content: strings.Repeat("y", 40)},
	}
	// 1+4 + 0+4 + 10+4
	if got := EstimateMessages(msgs); got != 23 {
		t.Errorf("EstimateMessages = %d, want 23", got)
	}
}

func TestEstimateOutput(t *testing.T) {
	cases := []struct {
		input int64
		want  int64
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{100, 25},
		{32768, 8192},
		{40000, 8192}, // capped
		{1_000_000, 8192},
	}
	for _, tc := range cases {
		if got := EstimateOutput(tc.input); got != tc.want {
			t.Errorf("EstimateOutput(%d) = %d, want %d", tc.input, got, tc.want)
		}
	}
}
