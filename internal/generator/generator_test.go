package generator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/modeleur/internal/api"
	"github.com/lamim/modeleur/internal/prompt"
	"github.com/lamim/modeleur/pkg/models"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []api.ImageRequest
	resp     *api.ImageResponse
	err      error
}

func (f *fakeClient) GenerateImage(ctx context.Context, req api.ImageRequest) (*api.ImageResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newGenerator(client ImageClient) *Generator {
	return New(client, prompt.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateWithoutReference(t *testing.T) {
	client := &fakeClient{resp: &api.ImageResponse{Data: []byte("final"), MIMEType: "image/png"}}
	g := newGenerator(client)

	img, err := g.Generate(context.Background(), "a horse", models.StageFinal, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("final"), img)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.False(t, req.HasReference())
	assert.Equal(t, prompt.Default().Build("a horse", models.StageFinal, false), req.Prompt)
}

func TestGenerateWithReference(t *testing.T) {
	client := &fakeClient{resp: &api.ImageResponse{Data: []byte("lump")}}
	g := newGenerator(client)

	reference := []byte("final-bytes")
	_, err := g.Generate(context.Background(), "a horse", models.StageRoughMass, reference)
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, reference, req.Reference)
	assert.Equal(t, prompt.Default().Build("a horse", models.StageRoughMass, true), req.Prompt)
}

func TestGenerateNoImage(t *testing.T) {
	g := newGenerator(&fakeClient{err: api.ErrNoImage})

	_, err := g.Generate(context.Background(), "a horse", models.StageBlocking, []byte("ref"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoImage)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, models.StageBlocking, stageErr.Stage)
}

func TestGenerateServiceFailure(t *testing.T) {
	serviceErr := &api.APIError{Message: "quota", StatusCode: 429}
	client := &fakeClient{err: serviceErr}
	g := newGenerator(client)

	_, err := g.Generate(context.Background(), "a horse", models.StageFinal, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage 4 generation failed")

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Len(t, client.requests, 1)
}
