package dataio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/irfndi/etffactor/pkg/factors"
)

// MetadataFile is the name of the run metadata written next to the outputs.
const MetadataFile = "metadata.json"

// Metadata records what a run wrote and which data it was computed from.
type Metadata struct {
	RunID       string               `json:"run_id"`
	Mode        Mode                 `json:"mode"`
	Data        factors.FrameSummary `json:"data"`
	Factors     []FactorMetadata     `json:"factors"`
	Files       []string             `json:"files"`
	LastUpdated time.Time            `json:"last_updated"`
}

// FactorMetadata describes one written factor.
type FactorMetadata struct {
	Name     string           `json:"name"`
	Category factors.Category `json:"category"`
	Params   string           `json:"params"`
	Columns  []string         `json:"columns"`
	Rows     int              `json:"rows"`
}

// NewMetadata builds the metadata for results written as files.
func NewMetadata(runID string, mode Mode, data factors.FrameSummary, results []*factors.Result, files []string) Metadata {
	meta := Metadata{RunID: runID, Mode: mode, Data: data, Files: files}
	for _, r := range results {
		meta.Factors = append(meta.Factors, FactorMetadata{
			Name:     r.Factor,
			Category: r.Category,
			Params:   r.Params,
			Columns:  r.ColumnNames(),
			Rows:     r.Len(),
		})
	}
	return meta
}

// WriteMetadata writes meta as indented JSON to {dir}/metadata.json,
// replacing any previous run's file. It stamps LastUpdated and stores file
// paths relative to dir.
func (w *Writer) WriteMetadata(meta Metadata) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", w.dir, err)
	}
	meta.LastUpdated = w.now().UTC()
	files := make([]string, len(meta.Files))
	for i, f := range meta.Files {
		if rel, err := filepath.Rel(w.dir, f); err == nil {
			f = filepath.ToSlash(rel)
		}
		files[i] = f
	}
	meta.Files = files

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	path := filepath.Join(w.dir, MetadataFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	w.logger.Debug("Wrote run metadata", zap.String("path", path), zap.Int("factors", len(meta.Factors)))
	return path, nil
}

// ReadMetadata loads the metadata written by WriteMetadata from dir.
func ReadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode %s: %w", MetadataFile, err)
	}
	return meta, nil
}
