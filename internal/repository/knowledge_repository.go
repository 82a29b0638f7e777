package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// KnowledgeRepository searches knowledge_base_chunks with pgvector cosine distance.
type KnowledgeRepository struct {
	db *pgxpool.Pool
}

func NewKnowledgeRepository(db *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

var (
	_ interfaces.KnowledgeBase = (*KnowledgeRepository)(nil)
	_ interfaces.ChunkWriter   = (*KnowledgeRepository)(nil)
)

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (r *KnowledgeRepository) Search(ctx context.Context, tenantID *string, vector []float32, limit int, minScore float32) ([]entities.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, content, (1 - (embedding <=> $1::vector))::real AS similarity
		FROM knowledge_base_chunks
		WHERE tenant_id IS NOT DISTINCT FROM $2
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`, vectorLiteral(vector), tenantID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer rows.Close()

	chunks := []entities.KnowledgeChunk{}
	for rows.Next() {
		var c entities.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.Content, &c.Similarity); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// AddChunk stores one embedded chunk for a tenant.
func (r *KnowledgeRepository) AddChunk(ctx context.Context, id string, tenantID *string, content string, vector []float32) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO knowledge_base_chunks (id, tenant_id, content, embedding) VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding
	`, id, tenantID, content, vectorLiteral(vector))
	return err
}
