package recognize

import (
	"context"
	"fmt"
)

// Uploader posts a file as multipart form data. *remote.HTTPClient
// implements it.
type Uploader interface {
	PostFile(ctx context.Context, path, field, filename string, data []byte) ([]byte, error)
}

// HTTPRecognizer asks the remote service's /food/recognize endpoint.
type HTTPRecognizer struct {
	uploader Uploader
}

var _ Recognizer = (*HTTPRecognizer)(nil)

// NewHTTPRecognizer returns a recognizer that uploads through u.
func NewHTTPRecognizer(u Uploader) *HTTPRecognizer {
	return &HTTPRecognizer{uploader: u}
}

// Recognize uploads image as the "file" field. Remote failures are returned
// unchanged so callers can classify them with the remote error kinds.
func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte, filename string) (Guess, error) {
	if _, err := checkImage(image); err != nil {
		return Guess{}, err
	}
	if filename == "" {
		filename = "image"
	}

	raw, err := r.uploader.PostFile(ctx, "/food/recognize", "file", filename, image)
	if err != nil {
		return Guess{}, fmt.Errorf("failed to recognize %s: %w", filename, err)
	}
	return ParseGuess(raw)
}
