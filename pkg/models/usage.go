package models

import "time"

// TokenUsage is one entry in the append-only usage ledger, partitioned by
// session and calendar day.
type TokenUsage struct {
	Model        string    `json:"model"`
	SessionKey   string    `json:"session_key,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUsd      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// Budget caps token and USD spend. Zero-valued limits are unlimited.
// Changes apply to subsequent estimates.
type Budget struct {
	MaxTokensPerRequest  int64   `json:"max_tokens_per_request" yaml:"max_tokens_per_request"`
	MaxTokensPerSession  int64   `json:"max_tokens_per_session" yaml:"max_tokens_per_session"`
	MaxTokensPerDay      int64   `json:"max_tokens_per_day" yaml:"max_tokens_per_day"`
	MaxCostPerSessionUsd float64 `json:"max_cost_per_session_usd" yaml:"max_cost_per_session_usd"`
	MaxCostPerDayUsd     float64 `json:"max_cost_per_day_usd" yaml:"max_cost_per_day_usd"`
	WarnAtPct            float64 `json:"warn_at_pct" yaml:"warn_at_pct"`
	EnforceHardLimits    bool    `json:"enforce_hard_limits" yaml:"enforce_hard_limits"`
}

// BudgetPatch carries a partial budget update; nil fields are left unchanged.
type BudgetPatch struct {
	MaxTokensPerRequest  *int64   `json:"max_tokens_per_request,omitempty"`
	MaxTokensPerSession  *int64   `json:"max_tokens_per_session,omitempty"`
	MaxTokensPerDay      *int64   `json:"max_tokens_per_day,omitempty"`
	MaxCostPerSessionUsd *float64 `json:"max_cost_per_session_usd,omitempty"`
	MaxCostPerDayUsd     *float64 `json:"max_cost_per_day_usd,omitempty"`
	WarnAtPct            *float64 `json:"warn_at_pct,omitempty"`
	EnforceHardLimits    *bool    `json:"enforce_hard_limits,omitempty"`
}

// Apply merges the patch into the budget.
func (b *Budget) Apply(p BudgetPatch) {
	if p.MaxTokensPerRequest != nil {
		b.MaxTokensPerRequest = *p.MaxTokensPerRequest
	}
	if p.MaxTokensPerSession != nil {
		b.MaxTokensPerSession = *p.MaxTokensPerSession
	}
	if p.MaxTokensPerDay != nil {
		b.MaxTokensPerDay = *p.MaxTokensPerDay
	}
	if p.MaxCostPerSessionUsd != nil {
		b.MaxCostPerSessionUsd = *p.MaxCostPerSessionUsd
	}
	if p.MaxCostPerDayUsd != nil {
		b.MaxCostPerDayUsd = *p.MaxCostPerDayUsd
	}
	if p.WarnAtPct != nil {
		b.WarnAtPct = *p.WarnAtPct
	}
	if p.EnforceHardLimits != nil {
		b.EnforceHardLimits = *p.EnforceHardLimits
	}
}
