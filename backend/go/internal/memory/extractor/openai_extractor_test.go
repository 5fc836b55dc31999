package extractor

import (
	"strings"
	"testing"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

func TestParseCandidatesStripsMarkdownFence(t *testing.T) {
	reply := "```json\n[{\"fact_key\": \"name\", \"fact_value\": \"John\", \"confidence\": 0.9, \"is_sensitive\": false}]\n```"

	candidates, err := parseCandidates(reply, models.FactTypePersonal)
	if err != nil {
		t.Fatalf("parseCandidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.FactType != models.FactTypePersonal {
		t.Errorf("fact type not stamped: got %q", c.FactType)
	}
	if c.FactKey != "name" || c.FactValue != "John" {
		t.Errorf("unexpected candidate: %+v", c)
	}
	if c.Confidence == nil || *c.Confidence != 0.9 {
		t.Errorf("confidence not carried through: %+v", c.Confidence)
	}
}

func TestParseCandidatesDropsMalformed(t *testing.T) {
	// The second entry has no confidence and the third no value: both
	// fail validation and only the first should survive.
	reply := `[
		{"fact_key": "job", "fact_value": "engineer", "confidence": 0.8},
		{"fact_key": "age", "fact_value": "30"},
		{"fact_key": "city", "fact_value": "", "confidence": 0.7}
	]`

	candidates, err := parseCandidates(reply, models.FactTypeWork)
	if err != nil {
		t.Fatalf("parseCandidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 surviving candidate, got %d", len(candidates))
	}
	if candidates[0].FactKey != "job" {
		t.Errorf("wrong candidate survived: %+v", candidates[0])
	}
}

func TestParseCandidatesInvalidJSON(t *testing.T) {
	_, err := parseCandidates("I could not find any facts.", models.FactTypeHealth)
	if err == nil {
		t.Fatal("expected an error for a non-JSON reply")
	}
	if !strings.Contains(err.Error(), models.FactTypeHealth) {
		t.Errorf("error should name the failing category: %v", err)
	}
}

func TestCategoryPromptsCoverAllFactTypes(t *testing.T) {
	for _, factType := range []string{
		models.FactTypePersonal,
		models.FactTypeWork,
		models.FactTypeHealth,
		models.FactTypePreference,
	} {
		prompt, ok := categoryPrompts[factType]
		if !ok {
			t.Errorf("no extraction prompt for %s", factType)
			continue
		}
		if !strings.Contains(prompt, "fact_key") {
			t.Errorf("%s prompt does not describe the reply format", factType)
		}
	}
}
