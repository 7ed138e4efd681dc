// Package classification is the client of the face similarity scorer.
package classification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/familring/album-service/internal/pkg/upstream"
)

// Person is one reference face sent to the scorer.
type Person struct {
	ID            int64  `json:"id"`
	FaceSignature string `json:"photoUrl"`
}

// Request asks the scorer to compare every target image with every person.
type Request struct {
	TargetImages []string `json:"targetImages"`
	People       []Person `json:"people"`
}

// Result holds the scores of one target image, keyed by person id.
type Result struct {
	ImageURL     string
	Similarities map[int64]float64
	FaceCount    int
}

type rawResult struct {
	ImageURL     string             `json:"imageUrl"`
	Similarities map[string]float64 `json:"similarities"`
	FaceCount    int                `json:"faceCount"`
}

// Scorer computes per-image similarity scores against a set of people.
type Scorer interface {
	CalculateSimilarity(ctx context.Context, req Request) ([]Result, error)
}

// Client implements Scorer over HTTP.
type Client struct {
	api *upstream.Client
}

// NewClient creates classification client
func NewClient(api *upstream.Client) *Client {
	return &Client{api: api}
}

// CalculateSimilarity returns one result per target image, in request order.
func (c *Client) CalculateSimilarity(ctx context.Context, req Request) ([]Result, error) {
	var raw []rawResult
	if err := c.api.PostJSON(ctx, "/face-recognition/classification", nil, req, &raw); err != nil {
		return nil, fmt.Errorf("calculate similarity: %w", err)
	}
	if len(raw) != len(req.TargetImages) {
		return nil, &upstream.Error{
			Collaborator: c.api.Name(),
			Err:          fmt.Errorf("expected %d results, got %d", len(req.TargetImages), len(raw)),
		}
	}

	results := make([]Result, len(raw))
	for i, r := range raw {
		scores := make(map[int64]float64, len(r.Similarities))
		for key, score := range r.Similarities {
			personID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, &upstream.Error{Collaborator: c.api.Name(), Err: fmt.Errorf("invalid person id %q: %w", key, err)}
			}
			scores[personID] = score
		}
		results[i] = Result{ImageURL: r.ImageURL, Similarities: scores, FaceCount: r.FaceCount}
	}
	return results, nil
}
