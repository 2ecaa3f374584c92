package recognize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is a fast vision-capable model.
const DefaultAnthropicModel = string(anthropic.ModelClaudeHaiku4_5)

const systemPrompt = `You identify food in photos for a nutrition log.
Answer with a single JSON object and nothing else:
{"food_name": string, "serving_size": string, "calories": number,
 "protein": number, "carbs": number, "fats": number, "confidence": number}
Macros are grams for the visible portion, calories are kcal, confidence is
between 0 and 1. If no food is visible answer {"food_name": ""}.`

// MessageCreator is the part of the Anthropic client the recognizer uses.
type MessageCreator interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type anthropicClient struct {
	client anthropic.Client
}

func (c *anthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// AnthropicRecognizer sends the image to a vision model.
type AnthropicRecognizer struct {
	client    MessageCreator
	model     string
	maxTokens int64
}

var _ Recognizer = (*AnthropicRecognizer)(nil)

// NewAnthropicRecognizer creates a recognizer using apiKey. An empty model
// uses DefaultAnthropicModel.
func NewAnthropicRecognizer(apiKey, model string) (*AnthropicRecognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicRecognizerWithClient(&anthropicClient{client: client}, model), nil
}

// NewAnthropicRecognizerWithClient creates a recognizer with a custom client.
func NewAnthropicRecognizerWithClient(client MessageCreator, model string) *AnthropicRecognizer {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicRecognizer{client: client, model: model, maxTokens: 512}
}

// Recognize asks the model to name the food and estimate its macros.
func (r *AnthropicRecognizer) Recognize(ctx context.Context, image []byte, filename string) (Guess, error) {
	mediaType, err := checkImage(image)
	if err != nil {
		return Guess{}, err
	}

	prompt := "What food is in this photo?"
	if filename != "" {
		prompt += " The file is named " + filename + "."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(prompt),
			),
		},
	}

	msg, err := r.client.CreateMessage(ctx, params)
	if err != nil {
		return Guess{}, fmt.Errorf("anthropic recognize: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseGuess([]byte(text.String()))
}
