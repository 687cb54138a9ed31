package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/metrics"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 120 * time.Second
)

// Client sends image generation requests to a Gemini-compatible endpoint.
// Each call is a single attempt; callers decide what a failure means.
type Client struct {
	genai           *genai.Client
	modelCfg        config.ModelConfig
	rateLimiterPool *RateLimiterPool
	metrics         *metrics.Collector
	logger          *slog.Logger
}

// NewClient creates a new API client for the configured model
func NewClient(ctx context.Context, modelCfg config.ModelConfig, apiKey string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	timeout := DefaultHTTPTimeout
	if modelCfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL: modelCfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		genai:           gc,
		modelCfg:        modelCfg,
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
	}, nil
}

// SetMetrics attaches a metrics collector
func (c *Client) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// ModelName returns the model the client targets
func (c *Client) ModelName() string {
	return c.modelCfg.ModelName
}

// GenerateImage sends one prompt (plus optional reference image) and returns
// the first inline image of the response.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	modelID := c.modelCfg.BaseURL + ":" + c.modelCfg.ModelName

	waitStart := time.Now()
	if err := c.rateLimiterPool.Wait(ctx, modelID, c.modelCfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRateLimiterWait(c.modelCfg.ModelName, time.Since(waitStart))
	}

	parts, err := c.buildParts(req)
	if err != nil {
		return nil, err
	}

	genCfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: c.modelCfg.AspectRatio,
		},
	}

	c.logger.Debug("API request",
		"model", c.modelCfg.ModelName,
		"has_reference", req.HasReference(),
		"prompt_length", len(req.Prompt))

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, c.modelCfg.ModelName,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, genCfg)
	if c.metrics != nil {
		c.metrics.RecordAPIRequest(c.modelCfg.ModelName, time.Since(start), err == nil)
	}
	if err != nil {
		return nil, translateError(err)
	}

	return firstImage(resp)
}

func (c *Client) buildParts(req ImageRequest) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, 2)

	if req.HasReference() {
		data, mimeType, err := NormalizeReference(req.Reference)
		if err != nil {
			return nil, fmt.Errorf("invalid reference image: %w", err)
		}
		if mimeType == "" {
			mimeType = req.ReferenceMIMEType
		}
		if mimeType == "" {
			mimeType = c.modelCfg.ReferenceMIMEType
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}

	parts = append(parts, genai.NewPartFromText(req.Prompt))
	return parts, nil
}

// firstImage returns the first inline image part; other parts are ignored
func firstImage(resp *genai.GenerateContentResponse) (*ImageResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoImage
	}

	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil, ErrNoImage
	}

	for _, part := range candidate.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = config.DefaultReferenceMIMEType
		}
		return &ImageResponse{
			Data:      part.InlineData.Data,
			MIMEType:  mimeType,
			PartCount: len(candidate.Content.Parts),
		}, nil
	}

	return nil, ErrNoImage
}

// translateError maps SDK errors onto APIError; context errors pass through
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Message: apiErr.Message, StatusCode: apiErr.Code, Status: apiErr.Status}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Message: apiErrPtr.Message, StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status}
	}

	return &APIError{Message: fmt.Sprintf("request failed: %v", strings.TrimSpace(err.Error()))}
}
