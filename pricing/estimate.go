package pricing

import "github.com/costguard/costguard/llm/tokenizer"

// EstimateFromText counts prompt as prompt the way before_model_call's
// pre-flight warning path does: encode text with the model's tokenizer (or
// a generic estimator if none is registered) and price it as a prompt-only
// call. The result is never recorded; it exists purely for the warning
// comparison against remaining budget.
func (t *Table) EstimateFromText(model, text string) (float64, error) {
	tok := tokenizer.GetTokenizerOrEstimator(model)
	n, err := tok.CountTokens(text)
	if err != nil {
		return 0, err
	}
	return t.EstimateCost(model, Usage{PromptTokens: int64(n)}), nil
}
