package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/longhaul-ai/longhaul/internal/config"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// ErrBudgetExceeded is returned when a hard limit would be crossed.
var ErrBudgetExceeded = errors.New("budget exceeded")

// LimitError describes which limit a rejected request would cross.
type LimitError struct {
	// Limit names the crossed limit: request, session, day, cost_session,
	// or cost_day.
	Limit     string
	Estimated int64
	Allowed   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("budget exceeded: %s limit (estimated %d, allowed %d)", e.Limit, e.Estimated, e.Allowed)
}

func (e *LimitError) Unwrap() error { return ErrBudgetExceeded }

// CheckResult is the outcome of a pre-flight budget check.
type CheckResult struct {
	// EstimatedInput and EstimatedOutput are the token predictions the
	// check was made against.
	EstimatedInput  int64
	EstimatedOutput int64
	// Warnings lists soft-limit crossings (warn threshold reached, or hard
	// limits crossed while enforcement is off).
	Warnings []string
}

// Accountant enforces the configured budget before each LLM call and
// records actuals afterwards.
type Accountant struct {
	mu      sync.RWMutex
	budget  models.Budget
	ledger  *Ledger
	pricing map[string]config.ModelPricing
	metrics *observability.Metrics
	logger  *slog.Logger

	warnedMu     sync.Mutex
	warnedModels map[string]struct{}
}

// NewAccountant builds an accountant over the given ledger. metrics may be
// nil in tests.
func NewAccountant(budget models.Budget, ledger *Ledger, pricing map[string]config.ModelPricing, metrics *observability.Metrics, logger *slog.Logger) *Accountant {
	return &Accountant{
		budget:       budget,
		ledger:       ledger,
		pricing:      pricing,
		metrics:      metrics,
		logger:       logger,
		warnedModels: map[string]struct{}{},
	}
}

// Budget returns the current budget.
func (a *Accountant) Budget() models.Budget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.budget
}

// ApplyPatch merges a partial budget update. Changes affect subsequent
// checks only.
func (a *Accountant) ApplyPatch(patch models.BudgetPatch) models.Budget {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.budget.Apply(patch)
	return a.budget
}

// Cost converts a token count pair to USD using the configured pricing.
// Models missing from the table price at the table's fallback row, or the
// built-in fallback rates when no row is configured.
func (a *Accountant) Cost(model string, inputTokens, outputTokens int64) float64 {
	p := a.pricingFor(model)
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

func (a *Accountant) pricingFor(model string) config.ModelPricing {
	if p, ok := a.pricing[model]; ok {
		return p
	}
	a.warnUnpriced(model)
	if p, ok := a.pricing[config.FallbackModelKey]; ok {
		return p
	}
	return config.FallbackPricing
}

// warnUnpriced logs the first occurrence per model.
func (a *Accountant) warnUnpriced(model string) {
	a.warnedMu.Lock()
	_, seen := a.warnedModels[model]
	if !seen {
		a.warnedModels[model] = struct{}{}
	}
	a.warnedMu.Unlock()
	if !seen && a.logger != nil {
		a.logger.Warn("model missing from pricing table, using fallback rates", "model", model)
	}
}

// Check estimates the cost of sending msgs plus the system prompt and
// serialized tool schemas, and verifies it against every configured limit.
// With EnforceHardLimits off, crossings downgrade to warnings and the call
// proceeds.
func (a *Accountant) Check(sessionKey, model, systemPrompt string, msgs []models.Message, toolSchemas string) (CheckResult, error) {
	a.mu.RLock()
	b := a.budget
	a.mu.RUnlock()

	estIn := EstimateText(systemPrompt) + EstimateMessages(msgs) + EstimateText(toolSchemas)
	estOut := EstimateOutput(estIn)
	estTotal := estIn + estOut

	res := CheckResult{EstimatedInput: estIn, EstimatedOutput: estOut}

	sessionTokens, sessionCost := a.ledger.SessionTotals(sessionKey)
	dayTokens, dayCost := a.ledger.DayTotals()
	estCost := a.Cost(model, estIn, estOut)

	type limitCheck struct {
		name      string
		projected int64
		limit     int64
	}
	tokenChecks := []limitCheck{
		{"request", estTotal, b.MaxTokensPerRequest},
		{"session", sessionTokens + estTotal, b.MaxTokensPerSession},
		{"day", dayTokens + estTotal, b.MaxTokensPerDay},
	}
	for _, c := range tokenChecks {
		if c.limit <= 0 {
			continue
		}
		if c.projected > c.limit {
			if b.EnforceHardLimits {
				a.countDenial(c.name)
				return res, &LimitError{Limit: c.name, Estimated: c.projected, Allowed: c.limit}
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s token limit crossed (%d > %d), enforcement off", c.name, c.projected, c.limit))
		} else if b.WarnAtPct > 0 && float64(c.projected) >= float64(c.limit)*b.WarnAtPct {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s token budget at %.0f%% (%d of %d)", c.name, float64(c.projected)/float64(c.limit)*100, c.projected, c.limit))
		}
	}

	costChecks := []struct {
		name      string
		projected float64
		limit     float64
	}{
		{"cost_session", sessionCost + estCost, b.MaxCostPerSessionUsd},
		{"cost_day", dayCost + estCost, b.MaxCostPerDayUsd},
	}
	for _, c := range costChecks {
		if c.limit <= 0 {
			continue
		}
		if c.projected > c.limit {
			if b.EnforceHardLimits {
				a.countDenial(c.name)
				return res, &LimitError{Limit: c.name, Estimated: int64(c.projected * 100), Allowed: int64(c.limit * 100)}
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s limit crossed ($%.4f > $%.2f), enforcement off", c.name, c.projected, c.limit))
		} else if b.WarnAtPct > 0 && c.projected >= c.limit*b.WarnAtPct {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s budget at %.0f%% ($%.4f of $%.2f)", c.name, c.projected/c.limit*100, c.projected, c.limit))
		}
	}

	if a.logger != nil {
		for _, w := range res.Warnings {
			a.logger.Warn("budget warning", "session", sessionKey, "warning", w)
		}
	}
	return res, nil
}

func (a *Accountant) countDenial(limit string) {
	if a.metrics != nil {
		a.metrics.BudgetDenials.WithLabelValues(limit).Inc()
	}
}

// Record writes the actual usage of a completed call to the ledger.
func (a *Accountant) Record(sessionKey, model string, inputTokens, outputTokens int64) error {
	entry := models.TokenUsage{
		Model:        model,
		SessionKey:   sessionKey,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUsd:      a.Cost(model, inputTokens, outputTokens),
	}
	if err := a.ledger.Record(entry); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Usage summarizes current spend for the status API.
type Usage struct {
	SessionTokens  int64   `json:"session_tokens"`
	SessionCostUsd float64 `json:"session_cost_usd"`
	DayTokens      int64   `json:"day_tokens"`
	DayCostUsd     float64 `json:"day_cost_usd"`
}

// UsageFor reports current aggregates for a session.
func (a *Accountant) UsageFor(sessionKey string) Usage {
	st, sc := a.ledger.SessionTotals(sessionKey)
	dt, dc := a.ledger.DayTotals()
	return Usage{SessionTokens: st, SessionCostUsd: sc, DayTokens: dt, DayCostUsd: dc}
}
