package recognize

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

type mockMessageCreator struct {
	reply    string
	err      error
	captured anthropic.MessageNewParams
	calls    int
}

func (m *mockMessageCreator) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.calls++
	m.captured = params
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: m.reply}},
	}, nil
}

func TestNewAnthropicRecognizer(t *testing.T) {
	if _, err := NewAnthropicRecognizer("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	r, err := NewAnthropicRecognizer("test-api-key", "")
	if err != nil {
		t.Fatalf("NewAnthropicRecognizer: %v", err)
	}
	if r.model != DefaultAnthropicModel {
		t.Errorf("model = %q, want %q", r.model, DefaultAnthropicModel)
	}
}

func TestAnthropicRecognize(t *testing.T) {
	mock := &mockMessageCreator{
		reply: `{"food_name":"Oatmeal","serving_size":"1 bowl","calories":300,"protein":10,"carbs":54,"fats":5,"confidence":0.8}`,
	}
	r := NewAnthropicRecognizerWithClient(mock, "claude-test")

	g, err := r.Recognize(context.Background(), pngHeader, "breakfast.png")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if g.Draft.Name != "Oatmeal" || g.Draft.Carbs != 54 || g.Confidence != 0.8 {
		t.Errorf("guess = %+v", g)
	}

	if string(mock.captured.Model) != "claude-test" {
		t.Errorf("model = %q, want claude-test", mock.captured.Model)
	}
	if len(mock.captured.System) != 1 {
		t.Fatalf("system blocks = %d, want 1", len(mock.captured.System))
	}
	if len(mock.captured.Messages) != 1 || len(mock.captured.Messages[0].Content) != 2 {
		t.Fatalf("messages = %+v, want one message with image and text", mock.captured.Messages)
	}
	img := mock.captured.Messages[0].Content[0].OfImage
	if img == nil || img.Source.OfBase64 == nil {
		t.Fatal("first block is not a base64 image")
	}
	if got := string(img.Source.OfBase64.MediaType); got != "image/png" {
		t.Errorf("media type = %q, want image/png", got)
	}
	if mock.captured.Messages[0].Content[1].OfText == nil {
		t.Error("second block is not text")
	}
}

func TestAnthropicRecognizeNoFood(t *testing.T) {
	mock := &mockMessageCreator{reply: `{"food_name": ""}`}
	r := NewAnthropicRecognizerWithClient(mock, "")

	if _, err := r.Recognize(context.Background(), pngHeader, ""); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("Recognize error = %v, want ErrUnrecognized", err)
	}
}

func TestAnthropicRecognizeErrors(t *testing.T) {
	boom := errors.New("overloaded")
	mock := &mockMessageCreator{err: boom}
	r := NewAnthropicRecognizerWithClient(mock, "")

	if _, err := r.Recognize(context.Background(), pngHeader, ""); !errors.Is(err, boom) {
		t.Errorf("Recognize error = %v, want %v", err, boom)
	}
	if _, err := r.Recognize(context.Background(), nil, ""); !errors.Is(err, ErrImage) {
		t.Errorf("Recognize(nil) error = %v, want ErrImage", err)
	}
	if mock.calls != 1 {
		t.Errorf("client called %d times, want 1", mock.calls)
	}
}
