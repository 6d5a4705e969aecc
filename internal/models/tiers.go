package models

// Model tier aliases accepted in config and on the CLI.
const (
	TierHaiku  = "haiku"
	TierSonnet = "sonnet"
	TierOpus   = "opus"
)

// Full model identifiers passed to the Assistant CLI.
const (
	ModelHaiku  = "claude-haiku-4-5-20251001"
	ModelSonnet = "claude-sonnet-4-5-20250929"
	ModelOpus   = "claude-opus-4-6"
)

// DefaultModel is used when auto-selection is disabled and no model is
// configured.
const DefaultModel = ModelSonnet

// Tiers lists the model tiers in upgrade order, lowest first.
var Tiers = []string{ModelHaiku, ModelSonnet, ModelOpus}

var aliasToModel = map[string]string{
	TierHaiku:  ModelHaiku,
	TierSonnet: ModelSonnet,
	TierOpus:   ModelOpus,
}

var modelToAlias = map[string]string{
	ModelHaiku:  TierHaiku,
	ModelSonnet: TierSonnet,
	ModelOpus:   TierOpus,
}

// ResolveModel maps a tier alias to its full model id. Full ids and unknown
// strings pass through unchanged.
func ResolveModel(name string) string {
	if full, ok := aliasToModel[name]; ok {
		return full
	}
	return name
}

// ModelAlias returns the short alias for a full model id, or the id itself
// if it has no alias.
func ModelAlias(model string) string {
	if alias, ok := modelToAlias[model]; ok {
		return alias
	}
	return model
}

// ModelCost holds USD prices per one million tokens.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// ModelCosts is the per-tier price table used for cost fallbacks and waste
// estimates.
var ModelCosts = map[string]ModelCost{
	ModelHaiku:  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	ModelSonnet: {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	ModelOpus:   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
}

// Average tokens assumed per message when the CLI does not report usage.
const (
	AvgInputTokensPerMessage  = 4000
	AvgOutputTokensPerMessage = 1000
)

// AverageMessageCost estimates the USD cost of one message on the given
// model using the assumed token averages.
func AverageMessageCost(model string) float64 {
	cost, ok := ModelCosts[ResolveModel(model)]
	if !ok {
		cost = ModelCosts[DefaultModel]
	}
	return float64(AvgInputTokensPerMessage)/1_000_000*cost.InputPerMTok +
		float64(AvgOutputTokensPerMessage)/1_000_000*cost.OutputPerMTok
}

// DefaultQuotaLimits holds per-window message limits per model, approximating
// a Max-plan 5-hour window.
var DefaultQuotaLimits = map[string]int{
	ModelHaiku:  500,
	ModelSonnet: 225,
	ModelOpus:   45,
}
