package collab

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentflow/llm/embedding"
)

// Embedder adapts an embedding.Provider into vault.Embedder, converting the
// provider's []float64 output into the []float32 the vault stores and
// validating it against the provider's configured dimension before
// returning it.
type Embedder struct {
	provider embedding.Provider
}

// NewEmbedder wraps provider as a vault.Embedder.
func NewEmbedder(provider embedding.Provider) *Embedder {
	return &Embedder{provider: provider}
}

// EmbedText satisfies vault.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if want := e.provider.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embedder %s returned %d dimensions, want %d", e.provider.Name(), len(vec), want)
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out, nil
}
