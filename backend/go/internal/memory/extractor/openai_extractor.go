package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

const systemPrompt = "You are a fact extraction expert. Extract only clear, factual information. Return valid JSON only."

// categoryPrompts drive one chat completion per fact category. Health
// facts are instructed to come back marked sensitive.
var categoryPrompts = map[string]string{
	models.FactTypePersonal: `Analyze this conversation and extract personal facts about the user. Look for:
- Name, age, birthday, family members
- Hobbies, interests, skills
- Personal preferences, habits
- Location, living situation

Return facts as JSON array with format:
[{"fact_key": "name", "fact_value": "John", "confidence": 0.9, "is_sensitive": false}]`,

	models.FactTypePreference: `Analyze this conversation and extract user preferences. Look for:
- Food preferences, dietary restrictions
- Activity preferences, dislikes
- Communication style preferences
- Time preferences, scheduling habits

Return facts as JSON array with format:
[{"fact_key": "dietary_preference", "fact_value": "vegetarian", "confidence": 0.8, "is_sensitive": false}]`,

	models.FactTypeWork: `Analyze this conversation and extract work-related facts. Look for:
- Job title, company, industry
- Work schedule, meeting patterns
- Professional skills, certifications
- Career goals, projects

Return facts as JSON array with format:
[{"fact_key": "job_title", "fact_value": "Software Engineer", "confidence": 0.9, "is_sensitive": false}]`,

	models.FactTypeHealth: `Analyze this conversation and extract health-related facts. Look for:
- Medical conditions, allergies
- Medications, treatments
- Exercise habits, fitness goals
- Mental health preferences

Mark health facts as sensitive. Return facts as JSON array with format:
[{"fact_key": "allergy", "fact_value": "peanuts", "confidence": 0.9, "is_sensitive": true}]`,
}

// OpenAIExtractor asks a chat completion model for fact tuples, one
// request per category. A failed category is logged and skipped so the
// other categories still produce candidates; the call errors only when
// every category failed.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

// NewOpenAIExtractor creates an extractor backed by the configured
// chat completion model.
func NewOpenAIExtractor(cfg *config.ClassifierConfig, log *logger.Logger) *OpenAIExtractor {
	client := openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey))
	return &OpenAIExtractor{client: client, model: cfg.Model, log: log}
}

func (e *OpenAIExtractor) ExtractCandidates(ctx context.Context, conversationText string) ([]*models.Candidate, error) {
	var all []*models.Candidate
	var failures int
	var lastErr error

	for factType, prompt := range categoryPrompts {
		candidates, err := e.extractCategory(ctx, conversationText, factType, prompt)
		if err != nil {
			failures++
			lastErr = err
			e.log.WithError(models.ErrorInfo{Message: err.Error()}).
				Warn(fmt.Sprintf("extraction failed for category %s", factType))
			continue
		}
		all = append(all, candidates...)
	}

	if failures == len(categoryPrompts) {
		return nil, fmt.Errorf("all extraction categories failed: %w", lastErr)
	}
	return all, nil
}

func (e *OpenAIExtractor) extractCategory(ctx context.Context, conversationText, factType, prompt string) ([]*models.Candidate, error) {
	fullPrompt := fmt.Sprintf("%s\n\nConversation:\n%s\n\nExtracted facts (JSON only):", prompt, conversationText)

	// Near-zero temperature keeps the JSON replies deterministic.
	temperature := float32(0.1)
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fullPrompt},
		},
		MaxTokens:   500,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion for %s facts failed: %w", factType, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion for %s facts returned no choices", factType)
	}

	return parseCandidates(resp.Choices[0].Message.Content, factType)
}

// parseCandidates decodes the model's JSON reply. Structurally invalid
// entries are dropped here; confidence gating is not our job.
func parseCandidates(reply, factType string) ([]*models.Candidate, error) {
	reply = strings.TrimSpace(reply)
	// Models sometimes wrap the array in a markdown fence.
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var raw []*models.Candidate
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON from %s extraction: %w", factType, err)
	}

	var candidates []*models.Candidate
	for _, c := range raw {
		c.FactType = factType
		if err := c.Validate(); err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
