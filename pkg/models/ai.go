// Package models contains shared data models used across the carinspect codebase.
package models

import "context"

// Analyzer is the interface every AI analysis backend implements.
// The worker never calls a concrete client directly; it is always injected.
type Analyzer interface {
	// Analyze sends the media of one job to the analysis service and returns its result.
	Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error)
	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error
	// Name returns the backend identifier (e.g., "http", "mock").
	Name() string
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	JobID     string   `json:"jobId"`
	ImageURLs []string `json:"imageUrls"`
	AudioURL  string   `json:"audioUrl,omitempty"`
}

// AnalyzeResult is the parsed response of the analysis service. Payload is a JSON
// object as returned, or {"raw": <text>} when the service answered with plain text.
type AnalyzeResult struct {
	Payload     map[string]any
	ContentType string
}
