package budget

import (
	"strings"
	"sync"

	"github.com/stellarlinkco/agentcore/pkg/message"
)

// Pricing gives per-million-token USD costs for one model, plus the
// long-context multiplier applied once context usage crosses the model's
// threshold.
type Pricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64

	LongContextMultiplier float64
	LongContextThreshold  int64
}

// DefaultPricing is the bundled table. Per-model numbers should be verified
// against current provider pricing before release.
func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		"opus": {
			InputPerMTok: 5, OutputPerMTok: 25,
			CacheReadPerMTok: 0.5, CacheWritePerMTok: 6.25,
			LongContextMultiplier: 2, LongContextThreshold: 200_000,
		},
		"sonnet": {
			InputPerMTok: 3, OutputPerMTok: 15,
			CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75,
			LongContextMultiplier: 2, LongContextThreshold: 200_000,
		},
		"haiku": {
			InputPerMTok: 1, OutputPerMTok: 5,
			CacheReadPerMTok: 0.1, CacheWritePerMTok: 1.25,
		},
	}
}

// ExceedAction selects what happens once the budget is exhausted.
type ExceedAction int

const (
	// StopBeforeNext refuses to issue further model requests.
	StopBeforeNext ExceedAction = iota
	// WarnAndContinue records the overage and keeps going.
	WarnAndContinue
	// FallbackModel switches the executor to a cheaper model.
	FallbackModel
)

// Config parameterizes a Tracker.
type Config struct {
	// LimitUSD caps total spend; zero means unlimited.
	LimitUSD float64
	// Action on exceed.
	Action ExceedAction
	// Fallback names the model used when Action is FallbackModel.
	Fallback string
	// WarnRatio and CriticalRatio set the context window thresholds
	// (defaults 0.80 and 0.95).
	WarnRatio     float64
	CriticalRatio float64
	// Pricing overrides the bundled table when non-nil.
	Pricing map[string]Pricing
}

// WindowStatus classifies context window utilization independent of cost.
type WindowStatus int

const (
	WindowOk WindowStatus = iota
	WindowWarning
	WindowCritical
	WindowExceeded
)

// Tracker accumulates per-call cost and decides when to stop.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	pricing   map[string]Pricing
	totalUSD  float64
	perTenant map[string]float64
}

// NewTracker builds a tracker from config, filling defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.WarnRatio <= 0 {
		cfg.WarnRatio = 0.80
	}
	if cfg.CriticalRatio <= 0 {
		cfg.CriticalRatio = 0.95
	}
	pricing := cfg.Pricing
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Tracker{cfg: cfg, pricing: pricing, perTenant: map[string]float64{}}
}

// Record adds one response's usage to the running totals and returns the
// cost of this call in USD. tenantID may be empty.
func (t *Tracker) Record(model string, usage message.Usage, tenantID string) float64 {
	pricing := t.lookup(model)
	multiplier := 1.0
	if pricing.LongContextThreshold > 0 && usage.ContextWindow() > pricing.LongContextThreshold {
		if pricing.LongContextMultiplier > 0 {
			multiplier = pricing.LongContextMultiplier
		}
	}
	cost := (float64(usage.InputTokens)*pricing.InputPerMTok +
		float64(usage.OutputTokens)*pricing.OutputPerMTok +
		float64(usage.CacheReadTokens)*pricing.CacheReadPerMTok +
		float64(usage.CacheWriteTokens)*pricing.CacheWritePerMTok) * multiplier / 1e6

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalUSD += cost
	if tenantID != "" {
		t.perTenant[tenantID] += cost
	}
	return cost
}

func (t *Tracker) lookup(model string) Pricing {
	needle := strings.ToLower(strings.TrimSpace(model))
	if p, ok := t.pricing[needle]; ok {
		return p
	}
	// Family substring fallback mirrors the model registry.
	for key, p := range t.pricing {
		if strings.Contains(needle, key) {
			return p
		}
	}
	return Pricing{}
}

// TotalUSD reports accumulated spend.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD
}

// TenantUSD reports accumulated spend for one tenant.
func (t *Tracker) TenantUSD(tenantID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perTenant[tenantID]
}

// Exceeded reports whether the configured limit has been crossed.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.LimitUSD > 0 && t.totalUSD >= t.cfg.LimitUSD
}

// Decision reports the configured action and fallback model. The executor
// consults this before issuing the next request, never mid-request.
func (t *Tracker) Decision() (ExceedAction, string) {
	return t.cfg.Action, t.cfg.Fallback
}

// Window classifies context utilization against the thresholds.
func (t *Tracker) Window(contextUsage, limit int64) WindowStatus {
	if limit <= 0 {
		return WindowOk
	}
	ratio := float64(contextUsage) / float64(limit)
	switch {
	case ratio >= 1:
		return WindowExceeded
	case ratio >= t.cfg.CriticalRatio:
		return WindowCritical
	case ratio >= t.cfg.WarnRatio:
		return WindowWarning
	default:
		return WindowOk
	}
}
