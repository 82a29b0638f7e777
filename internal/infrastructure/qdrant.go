package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// globalTenantKeyword tags chunks that belong to the global knowledge base.
const globalTenantKeyword = "global"

// QdrantKnowledgeBase searches tenant knowledge chunks stored in qdrant.
// Points carry "tenant_id" and "content" payload fields.
type QdrantKnowledgeBase struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantKnowledgeBase(rawURL, apiKey, collection string) (*QdrantKnowledgeBase, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantKnowledgeBase{client: client, collection: collection}, nil
}

var (
	_ interfaces.KnowledgeBase = (*QdrantKnowledgeBase)(nil)
	_ interfaces.ChunkWriter   = (*QdrantKnowledgeBase)(nil)
)

func tenantFilter(tenantID *string) *qdrant.Filter {
	keyword := globalTenantKeyword
	if tenantID != nil {
		keyword = *tenantID
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "tenant_id",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: keyword}},
				},
			},
		}},
	}
}

func (q *QdrantKnowledgeBase) Search(ctx context.Context, tenantID *string, vector []float32, limit int, minScore float32) ([]entities.KnowledgeChunk, error) {
	lim := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		Filter:         tenantFilter(tenantID),
		ScoreThreshold: &minScore,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	chunks := make([]entities.KnowledgeChunk, 0, len(points))
	for _, point := range points {
		if point.Score < minScore {
			continue
		}
		chunk := entities.KnowledgeChunk{Similarity: point.Score}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				chunk.ID = id
			} else {
				chunk.ID = strconv.FormatUint(point.Id.GetNum(), 10)
			}
		}
		if v, ok := point.Payload["content"]; ok {
			chunk.Content = v.GetStringValue()
		}
		if chunk.Content != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// AddChunk upserts one embedded chunk. id must be a UUID.
func (q *QdrantKnowledgeBase) AddChunk(ctx context.Context, id string, tenantID *string, content string, vector []float32) error {
	keyword := globalTenantKeyword
	if tenantID != nil {
		keyword = *tenantID
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{"tenant_id": keyword, "content": content}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func (q *QdrantKnowledgeBase) Close() error {
	return q.client.Close()
}
