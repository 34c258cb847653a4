// Package sentiment scores text against a remote binary classifier and
// reduces the per-label probabilities to a good/bad verdict.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"image-sentiment-pipeline/models"
)

// ClassifyRequest is the classifier service request payload.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// LabelScore is one labeled probability in the classifier response.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client is a client for the sentiment classifier service.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a new classifier client.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Model returns the classifier model identifier used for provenance.
func (c *Client) Model() string {
	return c.model
}

// Score classifies text and applies the decision threshold. The classifier
// must return exactly one NEGATIVE and one POSITIVE score; anything else is
// an error.
func (c *Client) Score(ctx context.Context, text string, threshold float64) (*models.Sentiment, error) {
	scores, err := c.classify(ctx, text)
	if err != nil {
		return nil, err
	}

	var negative, positive *float64
	for _, s := range scores {
		switch s.Label {
		case "NEGATIVE":
			v := s.Score
			negative = &v
		case "POSITIVE":
			v := s.Score
			positive = &v
		}
	}
	if negative == nil {
		return nil, fmt.Errorf("classifier response missing NEGATIVE label")
	}
	if positive == nil {
		return nil, fmt.Errorf("classifier response missing POSITIVE label")
	}

	return &models.Sentiment{
		Negative: *negative,
		Positive: *positive,
		Good:     *positive-*negative > threshold,
	}, nil
}

// classify sends one text to the classifier service.
func (c *Client) classify(ctx context.Context, text string) ([]LabelScore, error) {
	jsonData, err := json.Marshal(ClassifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	// The classifier wraps per-label scores in one outer array per input.
	var nested [][]LabelScore
	if err := json.NewDecoder(resp.Body).Decode(&nested); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(nested) == 0 || len(nested[0]) == 0 {
		return nil, fmt.Errorf("classifier returned no scores")
	}
	return nested[0], nil
}
