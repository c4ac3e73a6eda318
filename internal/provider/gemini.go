package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.0-flash"

// GeminiClient backs the vision-description and text-generation capabilities
// with the Gemini API. It implements VisionDescriber and TextGenerator.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient reads the API key from the named environment variable;
// keys are supplied by the environment, never by config files.
func NewGeminiClient(ctx context.Context, model, apiKeyEnv string) (*GeminiClient, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "GEMINI_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s is not set", apiKeyEnv)
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = geminiDefaultModel
	}
	return &GeminiClient{client: c, model: model}, nil
}

// Describe sends the image together with the instruction prompt and returns
// the model's free-text description.
func (g *GeminiClient) Describe(ctx context.Context, imageRef, instruction string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(instruction)}

	if mime, data, ok := decodeDataURI(imageRef); ok {
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	} else {
		parts = append(parts, genai.NewPartFromURI(imageRef, "image/jpeg"))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini describe: %w", err)
	}
	text := firstText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini describe: empty response")
	}
	return text, nil
}

// Complete generates text from a plain prompt.
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini complete: %w", err)
	}
	text := firstText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini complete: empty response")
	}
	return strings.TrimSpace(text), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return ""
	}
	return content.Parts[0].Text
}

// decodeDataURI splits a "data:<mime>;base64,<payload>" reference.
func decodeDataURI(ref string) (mime string, data []byte, ok bool) {
	if !strings.HasPrefix(ref, "data:") {
		return "", nil, false
	}
	meta, payload, found := strings.Cut(ref[len("data:"):], ",")
	if !found {
		return "", nil, false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, decoded, true
}
