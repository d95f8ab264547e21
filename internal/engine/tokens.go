package engine

// Token estimation uses the common ~4 characters per token heuristic.
// It only has to be good enough for admission control: deciding whether
// a set of documents fits a model's input window before paying for the
// call. promptEnvelopeTokens covers system framing and message overhead
// the raw document text does not account for.
const (
	charsPerToken        = 4
	promptEnvelopeTokens = 512
)

// EstimateTokens estimates the token count of text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateDocumentTokens sums the token estimates of the given source
// documents, falling back to size-based estimation when a document
// carries no recorded token count.
func EstimateDocumentTokens(docs []SourceDocument) int {
	total := 0
	for _, d := range docs {
		total += d.TokenEstimate
	}
	return total
}

// FitsContextWindow reports whether documents plus the prompt envelope
// fit within maxInputTokens. A non-positive limit means the model did
// not declare one and admission control is skipped.
func FitsContextWindow(docs []SourceDocument, maxInputTokens int) bool {
	if maxInputTokens <= 0 {
		return true
	}
	return EstimateDocumentTokens(docs)+promptEnvelopeTokens <= maxInputTokens
}
