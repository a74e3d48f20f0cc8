package monitor

import (
	"strings"

	"github.com/agentmesh/governance_layer/domain/dynamics"
)

// MaxResponseBytes is the hard cap on update text.
const MaxResponseBytes = 50000

// technicalKeywords feed the keyword-density signal. Matching is
// case-insensitive on whole words.
var technicalKeywords = []string{
	"error", "panic", "fatal", "crash", "deadlock", "race",
	"timeout", "leak", "corrupt", "regression", "rollback",
	"conflict", "exception", "overflow", "segfault", "abort",
	"refactor", "undefined", "nil", "null",
}

// TextSignals are the numerical signals extracted from update text.
type TextSignals struct {
	Length        int
	LengthShare   float64 // length / MaxResponseBytes
	HasCodeBlock  bool
	KeywordCount  int
	KeywordScore  float64 // bounded keyword signal for phi
	KeywordShare  float64 // bounded keyword signal for derived complexity
}

// AnalyzeText extracts the signals used by complexity derivation and the
// attention blend.
func AnalyzeText(text string) TextSignals {
	sig := TextSignals{Length: len(text)}
	sig.LengthShare = dynamics.Clip01(float64(len(text)) / float64(MaxResponseBytes))
	sig.HasCodeBlock = strings.Contains(text, "```")

	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_'
	})
	for _, w := range words {
		for _, kw := range technicalKeywords {
			if w == kw {
				sig.KeywordCount++
				break
			}
		}
	}
	sig.KeywordScore = dynamics.Clip01(float64(sig.KeywordCount) / 8.0)
	sig.KeywordShare = dynamics.Clip01(float64(sig.KeywordCount) / 10.0)
	return sig
}

// Complexity-derivation weights. Documented here because they matter for
// classification stability: derived = 0.30*lengthShare + 0.20*codeBlock +
// 0.25*keywordShare + 0.25*coherenceDelta, clipped to [0,1]. When the caller
// self-reports a complexity, the final value is the max of both.
const (
	cwLength    = 0.30
	cwCodeBlock = 0.20
	cwKeywords  = 0.25
	cwCoherence = 0.25
)

// DeriveComplexity computes the server-side complexity estimate.
func DeriveComplexity(sig TextSignals, coherenceDelta float64) float64 {
	code := 0.0
	if sig.HasCodeBlock {
		code = 1.0
	}
	return dynamics.Clip01(
		cwLength*sig.LengthShare +
			cwCodeBlock*code +
			cwKeywords*sig.KeywordShare +
			cwCoherence*dynamics.Clip01(coherenceDelta))
}

// EffectiveComplexity reconciles a self-reported value with the derived one:
// the higher of the two wins, and both are clipped to [0,1].
func EffectiveComplexity(selfReported *float64, derived float64) float64 {
	if selfReported == nil {
		return dynamics.Clip01(derived)
	}
	self := dynamics.Clip01(*selfReported)
	if self > derived {
		return self
	}
	return dynamics.Clip01(derived)
}

// Attention-blend weights: phi = 0.35*coherenceGap + 0.25*complexity +
// 0.25*lengthRisk + 0.15*keywordScore; legacy = 0.40*complexity +
// 0.30*lengthRisk + 0.30*coherenceGap. attention = 0.7*phi + 0.3*legacy.
const (
	phiWGap      = 0.35
	phiWComplex  = 0.25
	phiWLength   = 0.25
	phiWKeywords = 0.15

	legacyWComplex = 0.40
	legacyWLength  = 0.30
	legacyWGap     = 0.30

	attentionWPhi    = 0.7
	attentionWLegacy = 0.3
)

// Phi is the primary bounded risk blend.
func Phi(coherenceGap, complexity, lengthRisk, keywordScore float64) float64 {
	return dynamics.Clip01(
		phiWGap*dynamics.Clip01(coherenceGap) +
			phiWComplex*dynamics.Clip01(complexity) +
			phiWLength*dynamics.Clip01(lengthRisk) +
			phiWKeywords*dynamics.Clip01(keywordScore))
}

// LegacyHeuristic is the second weighted combination retained for continuity.
func LegacyHeuristic(coherenceGap, complexity, lengthRisk float64) float64 {
	return dynamics.Clip01(
		legacyWComplex*dynamics.Clip01(complexity) +
			legacyWLength*dynamics.Clip01(lengthRisk) +
			legacyWGap*dynamics.Clip01(coherenceGap))
}

// AttentionScore blends phi with the legacy heuristic.
func AttentionScore(phi, legacy float64) float64 {
	return dynamics.Clip01(attentionWPhi*phi + attentionWLegacy*legacy)
}
