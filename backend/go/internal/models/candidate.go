package models

import "fmt"

// Candidate is one fact tuple proposed by the external classifier.
// Confidence is a pointer so that a missing number in the classifier's
// JSON reply can be told apart from an explicit zero.
type Candidate struct {
	FactType    string   `json:"fact_type"`
	FactKey     string   `json:"fact_key"`
	FactValue   string   `json:"fact_value"`
	Confidence  *float64 `json:"confidence"`
	IsSensitive bool     `json:"is_sensitive"`

	// ReplacesFactID is set by the dedup engine when this candidate won a
	// duplicate comparison: the caller should update that fact in place
	// instead of creating a new one.
	ReplacesFactID string `json:"-"`
}

// Validate checks the structural contract: key, value and confidence must
// all be present. A failure here is a malformed candidate, not a
// low-confidence one.
func (c *Candidate) Validate() error {
	if c.FactKey == "" {
		return fmt.Errorf("%w: candidate missing fact_key", ErrValidation)
	}
	if c.FactValue == "" {
		return fmt.Errorf("%w: candidate missing fact_value", ErrValidation)
	}
	if c.Confidence == nil {
		return fmt.Errorf("%w: candidate missing confidence", ErrValidation)
	}
	if *c.Confidence < 0 || *c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, *c.Confidence)
	}
	return nil
}
