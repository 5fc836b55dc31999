package extractor

import (
	"strings"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Keys carrying these tokens are strong identity signals and get a
// confidence boost.
var strongSignalKeys = []string{"name", "age", "job", "company"}

// Hedging language in the value lowers confidence.
var hedgingWords = []string{"maybe", "perhaps", "might", "possibly", "sometimes"}

// Concrete, checkable value shapes (numbers with units, contact-like
// strings, weekday mentions) raise confidence.
var concretePatterns = []string{
	"years old", "@", ".com",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// Dedup gates, scores and deduplicates candidate facts. It is a pure
// function of its inputs and never touches storage; the caller persists
// whatever comes back.
type Dedup struct {
	confidenceGate float64
}

// NewDedup creates the engine with the configured confidence gate.
func NewDedup(confidenceGate float64) *Dedup {
	return &Dedup{confidenceGate: confidenceGate}
}

// AdjustConfidence applies the deterministic heuristic to a raw
// confidence. All adjustments are computed from the raw candidate and
// summed once, so the result does not depend on evaluation order.
func AdjustConfidence(candidate *models.Candidate) float64 {
	key := strings.ToLower(candidate.FactKey)
	value := strings.ToLower(candidate.FactValue)

	delta := 0.0
	for _, token := range strongSignalKeys {
		if strings.Contains(key, token) {
			delta += 0.1
			break
		}
	}
	for _, word := range hedgingWords {
		if strings.Contains(value, word) {
			delta -= 0.2
			break
		}
	}
	for _, pattern := range concretePatterns {
		if strings.Contains(value, pattern) {
			delta += 0.1
			break
		}
	}

	adjusted := *candidate.Confidence + delta
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 1 {
		adjusted = 1
	}
	return adjusted
}

// Accept returns the subset of candidates that survive validation, the
// confidence gate and duplicate detection against the user's existing
// facts. The input slice is left untouched: survivors come back as
// copies carrying the adjusted confidence, with ReplacesFactID set when
// the candidate beat an existing duplicate so the caller updates in
// place instead of inserting.
func (d *Dedup) Accept(candidates []*models.Candidate, existing []*models.FactView, force bool) []*models.Candidate {
	var accepted []*models.Candidate
	for _, c := range candidates {
		if c.Validate() != nil {
			continue
		}

		scored := *c
		adjusted := AdjustConfidence(c)
		scored.Confidence = &adjusted

		if adjusted < d.confidenceGate && !force {
			continue
		}

		duplicate, replaces := findDuplicate(&scored, existing)
		if duplicate && replaces == "" {
			// Existing fact wins, including ties.
			continue
		}
		scored.ReplacesFactID = replaces
		accepted = append(accepted, &scored)
	}
	return accepted
}

// findDuplicate reports whether the candidate duplicates an existing
// fact of the same type, and if so which fact it should replace.
// The existing fact is kept when its confidence is equal or higher.
func findDuplicate(c *models.Candidate, existing []*models.FactView) (bool, string) {
	for _, fact := range existing {
		if fact.FactType != c.FactType {
			continue
		}
		if !keysMatch(c.FactKey, fact.FactKey) {
			continue
		}
		if *c.Confidence > fact.ConfidenceScore {
			return true, fact.ID
		}
		return true, ""
	}
	return false, ""
}

// keysMatch compares normalized keys for equality or containment.
// Containment counts only when the shorter key has at least three
// characters, otherwise one-letter keys would collide with everything.
func keysMatch(a, b string) bool {
	na := normalizeKey(a)
	nb := normalizeKey(b)
	if na == nb {
		return true
	}
	shorter := na
	if len(nb) < len(na) {
		shorter = nb
	}
	if len(shorter) < 3 {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), " ")
}
