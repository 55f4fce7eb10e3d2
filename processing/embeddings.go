package processing

import (
	"context"
	"fmt"
	"math"

	"github.com/openai/openai-go/v3"
)

// EmbeddingSimilarity scores documents against a query by cosine similarity
// of OpenAI embeddings, mapped from [-1,1] onto [0,1].
type EmbeddingSimilarity struct {
	client openai.Client
	model  openai.EmbeddingModel
}

func NewEmbeddingSimilarity(client openai.Client, s Settings) *EmbeddingSimilarity {
	model := openai.EmbeddingModelTextEmbedding3Small
	if s.EmbeddingModel != "" {
		model = openai.EmbeddingModel(s.EmbeddingModel)
	}
	return &EmbeddingSimilarity{client: client, model: model}
}

func (e *EmbeddingSimilarity) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: append([]string{query}, docs...)},
		Model: e.model,
	})
	if err != nil {
		return nil, classify("embeddings", err)
	}
	if len(resp.Data) != len(docs)+1 {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(docs)+1)
	}

	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	scores := make([]float64, len(docs))
	for i := range docs {
		scores[i] = (cosine(vectors[0], vectors[i+1]) + 1) / 2
	}
	return scores, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
