// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder speaks the OpenAI embeddings API. Any compatible
// endpoint works, including local ollama and vllm deployments; the base
// URL selects the deployment.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// OpenAIEmbedderConfig configures the embeddings endpoint.
type OpenAIEmbedderConfig struct {
	// BaseURL overrides the API endpoint, e.g. http://localhost:11434/v1
	// for ollama. Empty uses the OpenAI default.
	BaseURL string

	// Model is the embedding model name, e.g. "text-embedding-3-small"
	// or "all-minilm".
	Model string

	// APIKeyEnv names the environment variable holding the API key.
	// Local deployments typically need none.
	APIKeyEnv string
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible endpoint.
// Dimensions are discovered lazily from the first response.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimensions implements Embedder. Returns 0 until the first Embed call.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	if e.dimensions == 0 && len(vectors[0]) > 0 {
		e.dimensions = len(vectors[0])
	}
	return vectors, nil
}
