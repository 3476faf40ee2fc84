package rag

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadPassagesFile reads a YAML sequence of passages. Every entry needs content.
func LoadPassagesFile(path string) ([]Passage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rag: read knowledge: %w", err)
	}
	var passages []Passage
	if err := yaml.Unmarshal(raw, &passages); err != nil {
		return nil, fmt.Errorf("rag: parse knowledge: %w", err)
	}
	for i, p := range passages {
		if p.Content == "" {
			return nil, fmt.Errorf("rag: passage %d has no content", i)
		}
	}
	return passages, nil
}

// Seed indexes passages only when the knowledge base is empty.
func (r *Retriever) Seed(ctx context.Context, passages []Passage) (int, error) {
	count, err := r.db.NewSelect().Model((*chunkRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rag: count chunks: %w", err)
	}
	if count > 0 {
		log.Ctx(ctx).Debug().Int("chunks", count).Msg("knowledge base already seeded")
		return 0, nil
	}
	for i, p := range passages {
		if err := r.Index(ctx, p); err != nil {
			return i, fmt.Errorf("rag: index passage %q: %w", p.Title, err)
		}
	}
	return len(passages), nil
}
