// Package generator wraps the remote image synthesis call. The provider
// is opaque: a source photo plus an instruction goes in, generated image
// bytes come out, and any provider-side failure surfaces as a single
// descriptive error for the item that requested it.
package generator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/stagefox/rockstar-booth/internal/model"
)

// Result is one generated portrait.
type Result struct {
	Data     []byte
	MimeType string
}

// Client calls the Gemini image model with a client-side rate limiter
// guarding the provider quota and a per-call deadline bounding slow or
// hanging requests.
type Client struct {
	client      *genai.Client
	model       string
	callTimeout time.Duration
	limiter     *rate.Limiter
}

// New connects to the Gemini API.
func New(ctx context.Context, apiKey, model string, callTimeout time.Duration, perSec float64, burst int) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client:      client,
		model:       model,
		callTimeout: callTimeout,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
	}, nil
}

// Prompt builds the natural-language instruction for one guitar. The
// catalog descriptor is used when the key is known, the bare key
// otherwise.
func Prompt(key string) string {
	descriptor := key
	if g, ok := model.GuitarByName(key); ok {
		descriptor = g.Descriptor
	}

	return fmt.Sprintf(
		"Transform the person in this photo into a rockstar performing on a concert stage, "+
			"playing %s. Keep the face recognizable. Dramatic stage lighting, smoke, cheering crowd "+
			"in the background. Photorealistic.",
		descriptor,
	)
}

// Generate produces one portrait for the given guitar key from the
// shared source photo.
func (c *Client) Generate(ctx context.Context, photo []byte, mimeType, key string) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromText(Prompt(key)),
		genai.NewPartFromBytes(photo, mimeType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(callCtx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate %q: %w", key, err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return Result{Data: part.InlineData.Data, MimeType: part.InlineData.MIMEType}, nil
			}
		}
	}

	return Result{}, fmt.Errorf("generate %q: model returned no image", key)
}
