package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type storedChunk struct {
	id       string
	tenantID *string
	content  string
}

type recordingWriter struct {
	chunks []storedChunk
	failOn string
}

func (w *recordingWriter) AddChunk(_ context.Context, id string, tenantID *string, content string, _ []float32) error {
	if w.failOn != "" && strings.Contains(content, w.failOn) {
		return errors.New("write failed")
	}
	w.chunks = append(w.chunks, storedChunk{id: id, tenantID: tenantID, content: content})
	return nil
}

type constEmbedder struct{ key string }

func (e *constEmbedder) Embed(_ context.Context, apiKey, _ string) ([]float32, error) {
	e.key = apiKey
	return []float32{0.1, 0.2}, nil
}

func TestKnowledgeImport(t *testing.T) {
	csvData := "name,category,price\n" +
		"Kopi Luwak,coffee,120000\n" +
		",,\n" +
		"Teh Hijau,tea,\n" +
		"Broken,tea,1\n"

	writer := &recordingWriter{failOn: "Broken"}
	embedder := &constEmbedder{}
	tenant := "t1"
	res, err := NewKnowledgeImporter(writer, embedder, "sk-embed").Import(context.Background(), strings.NewReader(csvData), &tenant)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res != (ImportResult{Imported: 2, Skipped: 1, Failed: 1}) {
		t.Errorf("result = %+v", res)
	}
	if embedder.key != "sk-embed" {
		t.Errorf("embed key = %q", embedder.key)
	}
	if len(writer.chunks) != 2 {
		t.Fatalf("chunks = %d", len(writer.chunks))
	}
	want := "name: Kopi Luwak\ncategory: coffee\nprice: 120000"
	if writer.chunks[0].content != want {
		t.Errorf("content = %q, want %q", writer.chunks[0].content, want)
	}
	if writer.chunks[1].content != "name: Teh Hijau\ncategory: tea" {
		t.Errorf("content = %q", writer.chunks[1].content)
	}
	if writer.chunks[0].tenantID == nil || *writer.chunks[0].tenantID != "t1" {
		t.Errorf("tenant = %v", writer.chunks[0].tenantID)
	}
}

func TestKnowledgeImportEmpty(t *testing.T) {
	_, err := NewKnowledgeImporter(&recordingWriter{}, &constEmbedder{}, "").Import(context.Background(), strings.NewReader(""), nil)
	if err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestChunkIDIsStablePerTenant(t *testing.T) {
	t1, t2 := "t1", "t2"
	if ChunkID(&t1, "a") != ChunkID(&t1, "a") {
		t.Error("same input produced different ids")
	}
	if ChunkID(&t1, "a") == ChunkID(&t2, "a") {
		t.Error("tenants share an id")
	}
	if ChunkID(nil, "a") == ChunkID(&t1, "a") {
		t.Error("global and tenant share an id")
	}
}
