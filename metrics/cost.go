package metrics

import "sync"

// modelPricing is input/output USD cost per 1M tokens. Adapted from the
// teacher's graph/cost.go defaultModelPricing table.
type modelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

var defaultPricing = map[string]modelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// CostTracker accumulates estimated USD cost across LLM calls using a
// static per-model pricing table. Unknown models are recorded at zero
// cost rather than rejected, since token counts and cost attribution still
// matter even without an exact price.
type CostTracker struct {
	mu      sync.Mutex
	pricing map[string]modelPricing
	total   float64
	byModel map[string]float64
}

// NewCostTracker creates a tracker seeded with the default pricing table.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		pricing: defaultPricing,
		byModel: make(map[string]float64),
	}
}

// SetPricing overrides (or adds) pricing for model, for deployments using
// enterprise rates or models absent from the default table.
func (t *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pricing == nil {
		t.pricing = make(map[string]modelPricing)
	}
	t.pricing[model] = modelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Record computes and accumulates the cost of one call, returning it.
func (t *CostTracker) Record(model string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	price := t.pricing[model] // zero value if unknown: cost is recorded as 0
	cost := (float64(inputTokens)/1_000_000.0)*price.InputPer1M + (float64(outputTokens)/1_000_000.0)*price.OutputPer1M
	t.total += cost
	t.byModel[model] += cost
	return cost
}

// Total returns cumulative cost across every recorded call.
func (t *CostTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByModel returns a copy of the per-model cost breakdown.
func (t *CostTracker) ByModel() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.byModel))
	for k, v := range t.byModel {
		out[k] = v
	}
	return out
}
