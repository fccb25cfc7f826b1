package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordLLMRequest("sonnet-large", "success", 1.5, 1000, 250)
	m.RecordLLMRequest("sonnet-large", "success", 0.8, 500, 100)
	m.RecordLLMRequest("sonnet-large", "error", 0.1, 0, 0)

	expected := `
		# HELP longhaul_llm_requests_total Total number of LLM requests by model and status
		# TYPE longhaul_llm_requests_total counter
		longhaul_llm_requests_total{model="sonnet-large",status="error"} 1
		longhaul_llm_requests_total{model="sonnet-large",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.LLMRequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter values: %v", err)
	}

	tokens := `
		# HELP longhaul_tokens_total Total number of tokens consumed by model and type
		# TYPE longhaul_tokens_total counter
		longhaul_tokens_total{model="sonnet-large",type="input"} 1500
		longhaul_tokens_total{model="sonnet-large",type="output"} 350
	`
	if err := testutil.CollectAndCompare(m.TokensUsed, strings.NewReader(tokens)); err != nil {
		t.Errorf("unexpected token totals: %v", err)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordToolExecution("shell", "success", 0.3)
	m.RecordToolExecution("shell", "timeout", 120)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestRecordTurn(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordTurn("main", "success", 4.2)
	m.RecordTurn("main", "success", 2.1)

	expected := `
		# HELP longhaul_turns_total Total number of agentic turns by session type and status
		# TYPE longhaul_turns_total counter
		longhaul_turns_total{session_type="main",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected turn counts: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in).String(); got != tc.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
