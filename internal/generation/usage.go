package generation

import (
	"strconv"
	"strings"
	"sync"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/settings"
)

type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var usageMutex sync.Mutex

var modelPricingTable = map[string]modelPricing{
	"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":       {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-4.1":      {InputPerMillion: 2.00, OutputPerMillion: 8.00},
}

// Usage is the accumulated token count and estimated spend.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// AddOpenAIUsage adds one call's tokens to the stored counters. It returns the
// call's estimated cost and whether the model had known pricing.
func AddOpenAIUsage(model string, inputTokens, outputTokens int) (float64, bool, error) {
	if inputTokens <= 0 && outputTokens <= 0 {
		return 0, false, nil
	}

	usageMutex.Lock()
	defer usageMutex.Unlock()

	db := localdb.GetDB()
	if db == nil {
		return 0, false, nil
	}
	manager := settings.NewSettingsManager(db)
	current := readUsage(manager)

	addedCost, ok := estimateCostUSD(model, inputTokens, outputTokens)

	if err := manager.SetSetting("OPENAI_USAGE_INPUT_TOKENS", strconv.Itoa(current.InputTokens+max(inputTokens, 0))); err != nil {
		return 0, false, err
	}
	if err := manager.SetSetting("OPENAI_USAGE_OUTPUT_TOKENS", strconv.Itoa(current.OutputTokens+max(outputTokens, 0))); err != nil {
		return 0, false, err
	}
	if ok {
		if err := manager.SetSetting("OPENAI_USAGE_COST_USD", strconv.FormatFloat(current.CostUSD+addedCost, 'f', 6, 64)); err != nil {
			return 0, false, err
		}
	}
	return addedCost, ok, nil
}

// GetUsage returns the stored counters.
func GetUsage() Usage {
	db := localdb.GetDB()
	if db == nil {
		return Usage{}
	}
	return readUsage(settings.NewSettingsManager(db))
}

func readUsage(manager *settings.SettingsManager) Usage {
	u := Usage{
		InputTokens:  manager.GetInt("OPENAI_USAGE_INPUT_TOKENS", 0),
		OutputTokens: manager.GetInt("OPENAI_USAGE_OUTPUT_TOKENS", 0),
	}
	if value, err := manager.GetRealValue("OPENAI_USAGE_COST_USD"); err == nil {
		u.CostUSD, _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
	}
	return u
}

func estimateCostUSD(model string, inputTokens, outputTokens int) (float64, bool) {
	pricing, ok := modelPricingTable[normalizeModelName(model)]
	if !ok {
		return 0, false
	}
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPerMillion +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPerMillion
	return cost, true
}

// normalizeModelName maps dated snapshots like gpt-4o-mini-2024-07-18 onto
// their base model. The longest matching key wins so gpt-4o-mini is not read
// as gpt-4o.
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	best := ""
	for key := range modelPricingTable {
		if model == key {
			return key
		}
		if strings.HasPrefix(model, key+"-") && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return best
	}
	return model
}
