package api

import (
	"errors"
	"fmt"
)

// ErrNoImage is returned when the service answered without an inline image part
var ErrNoImage = errors.New("no image produced")

// ImageRequest is one multimodal generation call: a text prompt and an
// optional reference image sent ahead of it.
type ImageRequest struct {
	Prompt            string
	Reference         []byte
	ReferenceMIMEType string // sniffed from Reference when empty
}

// HasReference reports whether a reference image is attached
func (r ImageRequest) HasReference() bool {
	return len(r.Reference) > 0
}

// ImageResponse is the first image part found in the service response
type ImageResponse struct {
	Data      []byte
	MIMEType  string
	PartCount int // total number of parts in the first candidate
}

// APIError represents an error returned by the generation service
type APIError struct {
	Message    string
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
