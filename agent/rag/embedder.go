package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/pgvector/pgvector-go"
)

type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openaisdk.Client
	model  string
}

func NewOpenAIEmbedder(client *openaisdk.Client, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("rag: embeddings client is nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("rag: embedding model is required")
	}
	return &OpenAIEmbedder{client: client, model: strings.TrimSpace(model)}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
		Model: openaisdk.EmbeddingModel(e.model),
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("rag: create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("rag: embedding response is empty")
	}
	// pgvector stores single precision.
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, x := range src {
		out[i] = float32(x)
	}
	return pgvector.NewVector(out), nil
}
