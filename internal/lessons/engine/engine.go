// Package engine defines the generation-backend capability the pipeline depends on:
// generate structured JSON for a prompt and schema. Concrete backends live in subpackages.
package engine

import (
	"context"
	"time"
)

// Tier selects which of a backend's models serves a request.
type Tier string

const (
	TierSimple  Tier = "simple"
	TierComplex Tier = "complex"
	TierFast    Tier = "fast"
)

type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

type Request struct {
	System      string
	Prompt      string
	Schema      *JSONSchema
	Tier        Tier
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Result struct {
	// Payload is the decoded JSON object when a schema was requested.
	Payload map[string]any
	Raw     string
	Model   string
	Usage   Usage
}

type Backend interface {
	Generate(ctx context.Context, model string, req Request) (Result, error)
}

// Descriptor is the static, config-derived description of a backend.
type Descriptor struct {
	ID             string          `json:"id"`
	Priority       int             `json:"priority"`
	Timeout        time.Duration   `json:"timeout"`
	Models         map[Tier]string `json:"models"`
	Enabled        bool            `json:"enabled"`
	HasCredentials bool            `json:"has_credentials"`
}

// Model resolves the model for a tier, falling back to complex and then to any configured model.
func (d Descriptor) Model(t Tier) string {
	if m := d.Models[t]; m != "" {
		return m
	}
	if m := d.Models[TierComplex]; m != "" {
		return m
	}
	for _, tier := range []Tier{TierSimple, TierFast} {
		if m := d.Models[tier]; m != "" {
			return m
		}
	}
	return ""
}

type Provider struct {
	Descriptor
	Backend Backend
}

// StatusError is implemented by backend errors that carry an upstream HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}
