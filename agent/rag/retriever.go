// Package rag retrieves knowledge-base passages for the system instruction.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	postgresx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/postgres"
)

const defaultK = 3

type Passage struct {
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
	Priority int    `yaml:"priority"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:knowledge_chunks,alias:k"`

	ID        int64           `bun:"id,pk,autoincrement"`
	Title     string          `bun:"title,notnull,default:''"`
	Content   string          `bun:"content,notnull"`
	Priority  int             `bun:"priority,notnull,default:0"`
	Embedding pgvector.Vector `bun:"embedding,type:vector"`
}

// Retriever ranks knowledge_chunks rows by cosine distance to the query
// embedding. An empty query returns the highest-priority chunks.
type Retriever struct {
	db       bun.IDB
	embedder Embedder
}

var _ contractx.ContextRetriever = (*Retriever)(nil)

func NewRetriever(db bun.IDB, embedder Embedder) *Retriever {
	return &Retriever{db: db, embedder: embedder}
}

func Migration() postgresx.Migration {
	return postgresx.Migration{
		Name: "rag.knowledge_chunks",
		Up: func(ctx context.Context, db bun.IDB) error {
			if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
				return err
			}
			_, err := db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().Exec(ctx)
			return err
		},
	}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (string, error) {
	if k <= 0 {
		k = defaultK
	}

	var rows []chunkRow
	q := r.db.NewSelect().
		Model(&rows).
		Column("id", "title", "content", "priority").
		Limit(k)

	if query = strings.TrimSpace(query); query == "" {
		q = q.OrderExpr("k.priority DESC, k.id ASC")
	} else {
		emb, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return "", fmt.Errorf("%w: %v", contractx.ErrRetrieval, err)
		}
		q = q.Where("k.embedding IS NOT NULL").OrderExpr("k.embedding <=> ?::vector", emb)
	}

	if err := q.Scan(ctx); err != nil {
		return "", fmt.Errorf("%w: query chunks: %v", contractx.ErrRetrieval, err)
	}

	passages := make([]Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, Passage{Title: row.Title, Content: row.Content, Priority: row.Priority})
	}
	return FormatPassages(passages), nil
}

// Index embeds and stores one passage.
func (r *Retriever) Index(ctx context.Context, p Passage) error {
	emb, err := r.embedder.Embed(ctx, strings.TrimSpace(p.Title+"\n"+p.Content))
	if err != nil {
		return err
	}
	row := &chunkRow{Title: p.Title, Content: p.Content, Priority: p.Priority, Embedding: emb}
	_, err = r.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// FormatPassages renders passages as the knowledge block of the prompt.
func FormatPassages(passages []Passage) string {
	blocks := make([]string, 0, len(passages))
	for _, p := range passages {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		if title := strings.TrimSpace(p.Title); title != "" {
			content = "### " + title + "\n" + content
		}
		blocks = append(blocks, content)
	}
	return strings.Join(blocks, "\n\n")
}

// StaticRetriever serves a fixed passage list ranked by word overlap. It
// backs local runs without a database.
type StaticRetriever struct {
	passages []Passage
}

var _ contractx.ContextRetriever = (*StaticRetriever)(nil)

func NewStaticRetriever(passages ...Passage) *StaticRetriever {
	return &StaticRetriever{passages: passages}
}

func (s *StaticRetriever) Retrieve(_ context.Context, query string, k int) (string, error) {
	if k <= 0 {
		k = defaultK
	}

	terms := words(query)
	type scored struct {
		p     Passage
		score int
	}
	ranked := make([]scored, 0, len(s.passages))
	for _, p := range s.passages {
		score := 0
		if len(terms) > 0 {
			for w := range words(p.Title + " " + p.Content) {
				if terms[w] {
					score++
				}
			}
			if score == 0 {
				continue
			}
		}
		ranked = append(ranked, scored{p: p, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].p.Priority > ranked[j].p.Priority
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]Passage, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.p)
	}
	return FormatPassages(out), nil
}

func words(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 2 {
			out[w] = true
		}
	}
	return out
}
