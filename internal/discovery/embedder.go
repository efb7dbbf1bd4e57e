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

// Package discovery ranks tools against natural-language queries. The
// pipeline is dense retrieval over embeddings, an additive enhancement
// layer bridging user language to provider capability, and a lexical
// fallback when the dense layer yields nothing.
package discovery

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder produces dense vectors for text. The same embedder must be
// used for the corpus and for queries: vectors from different models are
// never comparable.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model names the model, recorded next to every stored vector.
	Model() string

	// Dimensions is the vector width.
	Dimensions() int
}

// localDimensions is the vector width of the feature-hashing embedder.
const localDimensions = 256

// LocalEmbedder is a deterministic, network-free embedder based on token
// feature hashing. It is no match for a trained model on subtle phrasing
// but gives stable, useful rankings offline and identical results on
// every run, which the discovery contract requires.
type LocalEmbedder struct{}

// NewLocalEmbedder returns the feature-hashing embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

// Model implements Embedder.
func (e *LocalEmbedder) Model() string { return "local-fh-256" }

// Dimensions implements Embedder.
func (e *LocalEmbedder) Dimensions() int { return localDimensions }

// Embed implements Embedder. Tokens are hashed into a fixed number of
// buckets with a sign hash to reduce collision bias, then the vector is
// L2-normalized so cosine similarity reduces to a dot product.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = hashEmbed(text)
	}
	return vectors, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, localDimensions)
	for _, token := range Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % localDimensions)
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec
}

// normalize scales a vector to unit length in place. Zero vectors are
// left untouched.
func normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of two vectors, or 0 when their
// lengths differ or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
