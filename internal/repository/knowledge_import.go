package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

// KnowledgeImporter loads CSV rows into a knowledge base. Each row becomes
// one chunk rendered as "header: value" lines, so a product sheet or an FAQ
// export can be imported without reshaping.
type KnowledgeImporter struct {
	writer   interfaces.ChunkWriter
	embedder interfaces.Embedder
	apiKey   string
}

func NewKnowledgeImporter(writer interfaces.ChunkWriter, embedder interfaces.Embedder, apiKey string) *KnowledgeImporter {
	return &KnowledgeImporter{writer: writer, embedder: embedder, apiKey: apiKey}
}

type ImportResult struct {
	Imported int
	Skipped  int
	Failed   int
}

// ImportFile opens path and imports it for tenantID.
func (k *KnowledgeImporter) ImportFile(ctx context.Context, path string, tenantID *string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()
	return k.Import(ctx, f, tenantID)
}

// Import reads a header row followed by data rows. Rows that fail to embed
// or store are counted and logged; the import carries on.
func (k *KnowledgeImporter) Import(ctx context.Context, r io.Reader, tenantID *string) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ImportResult{}, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var res ImportResult
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read CSV: %w", err)
		}
		content := RowContent(headers, row)
		if content == "" {
			res.Skipped++
			continue
		}

		vector, err := k.embedder.Embed(ctx, k.apiKey, content)
		if err == nil {
			err = k.writer.AddChunk(ctx, ChunkID(tenantID, content), tenantID, content, vector)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			logging.Warn().Err(err).Int("row", res.Imported+res.Skipped+res.Failed).Msg("knowledge row not imported")
			continue
		}
		res.Imported++
	}
	return res, nil
}

// RowContent renders the non-empty cells of row under their headers.
func RowContent(headers, row []string) string {
	var sb strings.Builder
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
			sb.WriteString(strings.TrimSpace(headers[i]))
			sb.WriteString(": ")
		}
		sb.WriteString(cell)
	}
	return sb.String()
}

// ChunkID is stable for the same tenant and content, so re-importing a file
// updates chunks in place.
func ChunkID(tenantID *string, content string) string {
	scope := "global"
	if tenantID != nil {
		scope = "tenant:" + *tenantID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(scope+"\n"+content)).String()
}
