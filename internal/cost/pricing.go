// Package cost tracks per-model token usage and USD cost across a run,
// grounded on the teacher's internal/status pricing tables and the
// accumulator shape of its ExecutorMetrics.
package cost

import (
	"math"
	"strings"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPer1M       float64
	OutputPer1M      float64
	CachedInputPer1M float64
}

// DefaultPricing contains default per-million-token pricing for common
// models served by the Model Provider abstraction's native providers.
var DefaultPricing = map[string]ModelPricing{
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.0, OutputPer1M: 15.0, CachedInputPer1M: 0.30},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.0, OutputPer1M: 15.0, CachedInputPer1M: 0.30},
	"claude-3-5-haiku-20241022":  {InputPer1M: 1.0, OutputPer1M: 5.0, CachedInputPer1M: 0.10},
	"claude-3-opus-20240229":     {InputPer1M: 15.0, OutputPer1M: 75.0, CachedInputPer1M: 1.50},
	"claude-opus-4-20250514":     {InputPer1M: 15.0, OutputPer1M: 75.0, CachedInputPer1M: 1.50},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25, CachedInputPer1M: 0.03},

	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.0, CachedInputPer1M: 1.25},
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60, CachedInputPer1M: 0.075},
	"gpt-4.1":     {InputPer1M: 2.0, OutputPer1M: 8.0},
	"gpt-4.1-mini": {InputPer1M: 0.40, OutputPer1M: 1.60},
	"o1":          {InputPer1M: 15.0, OutputPer1M: 60.0, CachedInputPer1M: 7.50},
	"o1-mini":     {InputPer1M: 3.0, OutputPer1M: 12.0, CachedInputPer1M: 1.50},

	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-2.5-flash": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.0},
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.0},
}

// Resolve looks up pricing for a model, falling back to a prefix match for
// versioned/dated model IDs not present verbatim.
func Resolve(model string) (ModelPricing, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		return ModelPricing{}, false
	}
	if p, ok := DefaultPricing[model]; ok {
		return p, true
	}
	for id, p := range DefaultPricing {
		if strings.HasPrefix(model, id) || strings.HasPrefix(id, model) {
			return p, true
		}
	}
	return ModelPricing{}, false
}

// Estimate computes the USD cost for the given token counts against p.
func Estimate(input, output, cached int, p ModelPricing) float64 {
	total := (float64(input)*p.InputPer1M + float64(output)*p.OutputPer1M + float64(cached)*p.CachedInputPer1M) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}
