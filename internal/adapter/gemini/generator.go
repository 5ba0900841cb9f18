package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Conversation roles understood by the model API.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one message of the conversation handed to the model.
type Turn struct {
	Role string
	Text string
}

// Params select the model and sampling settings for a single generation.
// They come from the stored preferences of the user being answered.
type Params struct {
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int32
}

type Generator struct {
	client *genai.Client
}

func NewGenerator(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Generator, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	return &Generator{client: client}, nil
}

// Generate answers the last turn of the conversation, with the earlier turns
// as chat history.
func (g *Generator) Generate(ctx context.Context, p Params, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	slog.DebugContext(ctx, "generating response", "model", p.Model, "turns", len(turns))

	model := g.client.GenerativeModel(p.Model)
	model.SetTemperature(p.Temperature)
	model.SetMaxOutputTokens(p.MaxTokens)
	if p.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.SystemPrompt)}}
	}

	cs := model.StartChat()
	for _, turn := range turns[:len(turns)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Text))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", p.Model, "error", err)
		return "", err
	}

	text := collectText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response received")
	}
	return text, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

func collectText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}
