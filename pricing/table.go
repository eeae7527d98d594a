package pricing

import (
	"sort"
	"strings"
	"sync"

	"github.com/costguard/costguard/ctlerrors"
)

// ModelPricing is the per-1k-token rate card for one model.
type ModelPricing struct {
	InputPer1K       float64
	OutputPer1K      float64
	CachedInputPer1K *float64 // nil => fall back to InputPer1K
	ReasoningPer1K   *float64 // nil => reasoning tokens cost nothing
}

// ToolPricing is the rate card for one tool.
type ToolPricing struct {
	CostPerCall       float64
	CostPerInputByte  float64
	CostPerOutputByte float64
}

// Usage describes a single model call's token accounting, the unit Cost
// and EstimateCost consume.
type Usage struct {
	PromptTokens     int64
	CachedTokens     int64
	CompletionTokens int64
	ReasoningTokens  int64
}

// ToolUsage describes a single tool call's I/O size accounting.
type ToolUsage struct {
	InputBytes  int64
	OutputBytes int64
}

// Table resolves model/tool pricing and computes cost. It is safe for
// concurrent use; Reload atomically swaps the rate cards.
type Table struct {
	mu sync.RWMutex

	currency string

	exact  map[string]ModelPricing
	tools  map[string]ToolPricing

	// prefixes is sorted by descending length so the first match found by
	// a linear scan is always the longest.
	prefixes []prefixEntry

	fallbackInputPer1K  float64
	fallbackOutputPer1K float64
}

type prefixEntry struct {
	prefix  string
	pricing ModelPricing
}

func pricingEqual(a, b ModelPricing) bool {
	if a.InputPer1K != b.InputPer1K || a.OutputPer1K != b.OutputPer1K {
		return false
	}
	if !float64PtrEqual(a.CachedInputPer1K, b.CachedInputPer1K) {
		return false
	}
	return float64PtrEqual(a.ReasoningPer1K, b.ReasoningPer1K)
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Config seeds a Table's rate cards.
type Config struct {
	Currency            string
	FallbackInputPer1K  float64
	FallbackOutputPer1K float64
	Models              map[string]ModelPricing
	Tools               map[string]ToolPricing
}

// NewTable builds a Table from Config, rejecting ambiguous prefixes (two
// model names where one is a strict prefix of the other with a different
// rate) as a load-time error.
func NewTable(cfg Config) (*Table, error) {
	t := &Table{
		currency:            cfg.Currency,
		exact:               make(map[string]ModelPricing, len(cfg.Models)),
		tools:               make(map[string]ToolPricing, len(cfg.Tools)),
		fallbackInputPer1K:  cfg.FallbackInputPer1K,
		fallbackOutputPer1K: cfg.FallbackOutputPer1K,
	}

	names := make([]string, 0, len(cfg.Models))
	for name, p := range cfg.Models {
		t.exact[name] = p
		names = append(names, name)
	}
	for name, p := range cfg.Tools {
		t.tools[name] = p
	}

	sort.Strings(names)
	for i, a := range names {
		for j, b := range names {
			if i == j {
				continue
			}
			if strings.HasPrefix(b, a) && !pricingEqual(t.exact[a], t.exact[b]) {
				return nil, ctlerrors.Newf(ctlerrors.ErrPolicyLoad,
					"ambiguous model price prefix: %q is a prefix of %q with a different rate", a, b)
			}
		}
	}

	entries := make([]prefixEntry, 0, len(names))
	for name, p := range cfg.Models {
		entries = append(entries, prefixEntry{prefix: name, pricing: p})
	}
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})
	t.prefixes = entries

	return t, nil
}

// Reload atomically replaces the Table's rate cards with a freshly built
// one. Callers constructed from NewTable with new Config and swap here to
// keep the Table pointer stable for long-lived holders.
func (t *Table) Reload(cfg Config) error {
	fresh, err := NewTable(cfg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currency = fresh.currency
	t.exact = fresh.exact
	t.tools = fresh.tools
	t.prefixes = fresh.prefixes
	t.fallbackInputPer1K = fresh.fallbackInputPer1K
	t.fallbackOutputPer1K = fresh.fallbackOutputPer1K
	return nil
}

// Currency returns the table's uniform currency code.
func (t *Table) Currency() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currency
}

// Resolve looks up a model's pricing: exact match, then longest known
// prefix match, then the configured fallback rate. Never fails.
func (t *Table) Resolve(model string) ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.exact[model]; ok {
		return p
	}
	for _, e := range t.prefixes {
		if strings.HasPrefix(model, e.prefix) {
			return e.pricing
		}
	}
	return ModelPricing{
		InputPer1K:  t.fallbackInputPer1K,
		OutputPer1K: t.fallbackOutputPer1K,
	}
}

// ResolveTool looks up a tool's pricing, defaulting to zero cost.
func (t *Table) ResolveTool(tool string) ToolPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tools[tool]
}

// Cost computes the monetary cost of a model call.
//
//	((prompt - cached) / 1000) * input_per_1k
//	+ (cached / 1000) * (cached_input_per_1k or input_per_1k)
//	+ (completion / 1000) * output_per_1k
//	+ (reasoning / 1000) * (reasoning_per_1k or 0)
func (t *Table) Cost(model string, u Usage) float64 {
	p := t.Resolve(model)
	return costFor(p, u)
}

// EstimateCost is identical to Cost but intended for pre-flight warnings
// only; callers must never record an estimate as an actual accrual.
func (t *Table) EstimateCost(model string, u Usage) float64 {
	return t.Cost(model, u)
}

func costFor(p ModelPricing, u Usage) float64 {
	cached := u.CachedTokens
	if cached > u.PromptTokens {
		cached = u.PromptTokens
	}
	uncached := u.PromptTokens - cached

	cachedRate := p.InputPer1K
	if p.CachedInputPer1K != nil {
		cachedRate = *p.CachedInputPer1K
	}

	var reasoningRate float64
	if p.ReasoningPer1K != nil {
		reasoningRate = *p.ReasoningPer1K
	}

	cost := float64(uncached)/1000*p.InputPer1K +
		float64(cached)/1000*cachedRate +
		float64(u.CompletionTokens)/1000*p.OutputPer1K +
		float64(u.ReasoningTokens)/1000*reasoningRate

	if cost < 0 {
		return 0
	}
	return cost
}

// ToolCost computes the monetary cost of a tool call:
// cost_per_call + input_size*cost_per_input_byte + output_size*cost_per_output_byte.
func (t *Table) ToolCost(tool string, u ToolUsage) float64 {
	p := t.ResolveTool(tool)
	cost := p.CostPerCall +
		float64(u.InputBytes)*p.CostPerInputByte +
		float64(u.OutputBytes)*p.CostPerOutputByte
	if cost < 0 {
		return 0
	}
	return cost
}
