package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lamim/modeleur/internal/api"
	"github.com/lamim/modeleur/internal/prompt"
	"github.com/lamim/modeleur/pkg/models"
)

const tracerName = "github.com/lamim/modeleur/internal/generator"

// ErrNoImage means the service responded but produced no image
var ErrNoImage = api.ErrNoImage

// ImageClient is the generation service boundary
type ImageClient interface {
	GenerateImage(ctx context.Context, req api.ImageRequest) (*api.ImageResponse, error)
}

// StageError reports a failed generation for one stage
type StageError struct {
	Stage models.StageID
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d generation failed: %v", int(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Generator produces the image for a single stage
type Generator struct {
	client  ImageClient
	prompts *prompt.Builder
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a stage image generator
func New(client ImageClient, prompts *prompt.Builder, logger *slog.Logger) *Generator {
	return &Generator{
		client:  client,
		prompts: prompts,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Generate renders one stage. A non-empty reference is sent alongside the
// prompt. Exactly one request is made; every failure comes back as *StageError.
func (g *Generator) Generate(ctx context.Context, description string, stage models.StageID, reference []byte) ([]byte, error) {
	hasReference := len(reference) > 0

	ctx, span := g.tracer.Start(ctx, "generator.Generate", trace.WithAttributes(
		attribute.Int("stage.id", int(stage)),
		attribute.Bool("stage.has_reference", hasReference),
	))
	defer span.End()

	logger := g.logger.With("stage", int(stage))
	start := time.Now()

	resp, err := g.client.GenerateImage(ctx, api.ImageRequest{
		Prompt:    g.prompts.Build(description, stage, hasReference),
		Reference: reference,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		if errors.Is(err, ErrNoImage) {
			logger.Warn("No image in response", "duration", time.Since(start))
		} else {
			logger.Error("Generation request failed", "error", err, "duration", time.Since(start))
		}
		return nil, &StageError{Stage: stage, Err: err}
	}

	span.SetAttributes(attribute.Int("image.bytes", len(resp.Data)))
	logger.Debug("Stage image generated",
		"bytes", len(resp.Data),
		"mime_type", resp.MIMEType,
		"duration", time.Since(start))

	return resp.Data, nil
}
