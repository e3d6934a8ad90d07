package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator generates answers through a Genkit-registered model.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator binds a Genkit instance to a registered model
// name, e.g. "ollama/gemma3:27b".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(userPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("model generation: %w", err)
	}
	return resp.Text(), nil
}
