package utils

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator predicts the token cost of a chat turn ahead of the
// model call. Counts use a tiktoken encoding; provider tokenizers
// differ slightly, which is fine for quota accounting since actual
// usage is reconciled after the call.
type TokenEstimator struct {
	encoding       *tiktoken.Tiktoken
	replyAllowance int
}

// NewTokenEstimator builds an estimator for the given model name,
// falling back to the cl100k_base encoding for models tiktoken does not
// know. replyAllowance is the fixed budget reserved for the response,
// normally the per-request max token setting.
func NewTokenEstimator(model string, replyAllowance int) *TokenEstimator {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			encoding = nil
		}
	}
	return &TokenEstimator{encoding: encoding, replyAllowance: replyAllowance}
}

// Count returns the token count for text.
func (e *TokenEstimator) Count(text string) int {
	if e.encoding == nil {
		// Rough fallback: about four characters per token.
		return len(text) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// EstimateTurn predicts the total cost of one chat turn: the user
// message plus the reserved reply budget.
func (e *TokenEstimator) EstimateTurn(message string) int {
	return e.Count(message) + e.replyAllowance
}
