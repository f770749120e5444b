// Package gemini adapts the Gemini API to monitor.ClassificationCollaborator.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"
	temperature  = 0.3
)

const responseFormat = `Respond with a single JSON object and nothing else:
{"has_changes": bool, "severity": "high"|"medium"|"low"|"none", "summary": string, "key_changes": [string], "impact": string}`

// verdictSchema constrains model output to the ClassifyResponse shape.
var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"has_changes": {Type: genai.TypeBoolean},
		"severity":    {Type: genai.TypeString, Enum: []string{"high", "medium", "low", "none"}},
		"summary":     {Type: genai.TypeString},
		"key_changes": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"impact":      {Type: genai.TypeString},
	},
	Required: []string{"has_changes", "severity", "summary", "key_changes"},
}

// Generator is the subset of the genai models service used here.
type Generator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Collaborator classifies snapshot pairs with a Gemini model.
type Collaborator struct {
	models Generator
	model  string
}

// New creates a Collaborator backed by the Gemini developer API.
func New(ctx context.Context, apiKey, model string) (*Collaborator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithGenerator(client.Models, model), nil
}

// NewWithGenerator wraps an existing generator.
func NewWithGenerator(models Generator, model string) *Collaborator {
	if model == "" {
		model = DefaultModel
	}
	return &Collaborator{models: models, model: model}
}

// Name identifies the analyzer on verdicts.
func (c *Collaborator) Name() string {
	return "gemini:" + c.model
}

// Classify asks the model to compare the two texts.
func (c *Collaborator) Classify(ctx context.Context, req monitor.ClassifyRequest) (monitor.ClassifyResponse, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions+"\n\n"+responseFormat, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    verdictSchema,
		Temperature:       genai.Ptr[float32](temperature),
	}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(Prompt(req)), cfg)
	if err != nil {
		return monitor.ClassifyResponse{}, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return monitor.ClassifyResponse{}, errors.New("empty model response")
	}
	return Parse(resp.Text())
}

// Prompt renders the user turn for a request.
func Prompt(req monitor.ClassifyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these %s changes:\n\n", req.Type)
	b.WriteString("OLD DATA:\n")
	b.WriteString(req.OldText)
	b.WriteString("\n\nNEW DATA:\n")
	b.WriteString(req.NewText)
	b.WriteString("\n\nProvide a structured analysis.")
	return b.String()
}

// Parse decodes a model answer, tolerating a fenced code block.
func Parse(text string) (monitor.ClassifyResponse, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return monitor.ClassifyResponse{}, errors.New("empty model response")
	}
	var out monitor.ClassifyResponse
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return monitor.ClassifyResponse{}, fmt.Errorf("decode model response: %w", err)
	}
	return out, nil
}
