// Package recognize turns a food photo into a draft entry.
//
// A recognizer only proposes content. The guess becomes an entry when the
// caller passes its Draft to the sync engine, which queues it like any other
// entry when the remote service is unreachable.
package recognize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/macrolog/macrolog/internal/schema"
)

// MaxImageBytes bounds uploaded images.
const MaxImageBytes = 10 << 20

var (
	// ErrUnrecognized means the recognizer answered but named no food.
	ErrUnrecognized = errors.New("food not recognized")

	// ErrImage means the image is empty, too large or not a supported
	// format.
	ErrImage = errors.New("unsupported image")
)

// Recognizer guesses the food shown in an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, filename string) (Guess, error)
}

// Guess is a recognizer's proposal.
type Guess struct {
	Draft schema.Draft

	// Confidence is in [0, 1]; zero when the recognizer gave none.
	Confidence float64

	// Estimated is set when the macros came from the built-in table rather
	// than the recognizer.
	Estimated bool

	// Note is the recognizer's remark, if any.
	Note string
}

// supportedTypes are the image types every recognizer accepts.
var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// checkImage validates image and returns its detected media type.
func checkImage(image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: image is empty", ErrImage)
	}
	if len(image) > MaxImageBytes {
		return "", fmt.Errorf("%w: image is %d bytes, limit is %d", ErrImage, len(image), MaxImageBytes)
	}
	mediaType := http.DetectContentType(image)
	if !supportedTypes[mediaType] {
		return "", fmt.Errorf("%w: %s", ErrImage, mediaType)
	}
	return mediaType, nil
}

// ParseGuess reads a recognition answer. It accepts the flat object the
// remote service returns and the same object embedded in prose, as model
// answers often are. Missing macros are estimated from the food name.
func ParseGuess(raw []byte) (Guess, error) {
	doc := extractObject(raw)
	if doc == nil {
		return Guess{}, fmt.Errorf("%w: answer contains no JSON object", ErrUnrecognized)
	}

	root := gjson.ParseBytes(doc)
	name := strings.TrimSpace(first(root, "food_name", "name", "food").String())
	if name == "" {
		return Guess{}, fmt.Errorf("%w: no food name in answer", ErrUnrecognized)
	}
	if len(name) > schema.MaxNameLength {
		name = name[:schema.MaxNameLength]
	}

	g := Guess{
		Draft: schema.Draft{
			Name:        name,
			ServingSize: first(root, "serving_size", "serving").String(),
		},
		Confidence: first(root, "confidence", "score").Float(),
		Note:       root.Get("note").String(),
	}

	macros := []struct {
		dst   *float64
		paths []string
	}{
		{&g.Draft.Calories, []string{"calories", "macros.calories"}},
		{&g.Draft.Protein, []string{"protein", "macros.protein"}},
		{&g.Draft.Carbs, []string{"carbs", "macros.carbs"}},
		{&g.Draft.Fats, []string{"fats", "fat", "macros.fats", "macros.fat"}},
	}
	found := 0
	for _, m := range macros {
		v := first(root, m.paths...)
		if !v.Exists() {
			continue
		}
		if v.Type != gjson.Number || v.Float() < 0 {
			return Guess{}, fmt.Errorf("%w: invalid value %s for %s", ErrUnrecognized, v.Raw, m.paths[0])
		}
		*m.dst = v.Float()
		found++
	}

	if found == 0 {
		est, _ := Estimate(name)
		g.Draft.Calories, g.Draft.Protein, g.Draft.Carbs, g.Draft.Fats = est.Calories, est.Protein, est.Carbs, est.Fats
		g.Estimated = true
	}
	if g.Draft.ServingSize == "" {
		g.Draft.ServingSize = "1 serving"
	}
	if g.Confidence < 0 {
		g.Confidence = 0
	} else if g.Confidence > 1 {
		g.Confidence = 1
	}
	return g, nil
}

// first returns the first path that exists in root.
func first(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// extractObject returns raw when it is a JSON object, otherwise the
// outermost {...} span inside it.
func extractObject(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject() {
		return raw
	}
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil
	}
	span := raw[start : end+1]
	if !gjson.ValidBytes(span) {
		return nil
	}
	return span
}
