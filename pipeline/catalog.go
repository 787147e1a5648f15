package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Format selects which files a snapshot consists of.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatDual Format = "dual"
)

// maxAllocationAttempts bounds retries when a freshly allocated name is
// taken by a concurrent writer.
const maxAllocationAttempts = 5

// CatalogWriter persists the items of one crawl as a numbered snapshot.
type CatalogWriter struct {
	dir       string
	format    Format
	allocator SequenceAllocator
	now       func() time.Time
}

// WriterOption configures a CatalogWriter.
type WriterOption func(*CatalogWriter)

// WithFormat selects the output files.
func WithFormat(f Format) WriterOption {
	return func(w *CatalogWriter) {
		w.format = f
	}
}

// WithAllocator replaces the directory scan used for sequence numbers.
func WithAllocator(a SequenceAllocator) WriterOption {
	return func(w *CatalogWriter) {
		w.allocator = a
	}
}

// WithClock sets the clock used for the snapshot date.
func WithClock(now func() time.Time) WriterOption {
	return func(w *CatalogWriter) {
		w.now = now
	}
}

// NewCatalogWriter writes snapshots into dir.
func NewCatalogWriter(dir string, opts ...WriterOption) *CatalogWriter {
	w := &CatalogWriter{
		dir:       dir,
		format:    FormatCSV,
		allocator: DirScanAllocator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores items under the next free sequence for category and returns
// the path of the primary file. Every key in keys becomes a column, sorted.
func (w *CatalogWriter) Write(items []models.EnrichedItem, category string, keys []string) (string, error) {
	if category == "" {
		return "", errors.New("category cannot be empty")
	}
	columns := sortedUnique(keys)
	date := w.now()

	for attempt := 1; ; attempt++ {
		seq, err := w.allocator.Next(w.dir, category, date)
		if err != nil {
			return "", err
		}
		snapshot := SnapshotFile{Category: category, Date: date, Sequence: seq}

		writer, path, err := w.open(snapshot, columns)
		if errors.Is(err, fs.ErrExist) && attempt < maxAllocationAttempts {
			slog.Warn("snapshot name taken, allocating again",
				slog.String("category", category),
				slog.Int("sequence", seq),
			)
			continue
		}
		if err != nil {
			return "", err
		}

		if err := writeAll(writer, items); err != nil {
			return path, err
		}

		slog.Info("snapshot written",
			slog.String("path", path),
			slog.Int("items", len(items)),
			slog.Int("spec_columns", len(columns)),
		)
		return path, nil
	}
}

func (w *CatalogWriter) open(s SnapshotFile, columns []string) (OutputWriter, string, error) {
	csvPath := filepath.Join(w.dir, s.Name(".csv"))
	jsonPath := filepath.Join(w.dir, s.Name(".jsonl"))

	switch w.format {
	case FormatJSON:
		writer, err := NewJSONWriter(jsonPath)
		return writer, jsonPath, err
	case FormatDual:
		writer, err := NewDualWriter(csvPath, jsonPath, columns)
		return writer, csvPath, err
	case FormatCSV, "":
		writer, err := NewCSVWriter(csvPath, columns)
		return writer, csvPath, err
	default:
		return nil, "", fmt.Errorf("unknown output format %q", w.format)
	}
}

func writeAll(writer OutputWriter, items []models.EnrichedItem) error {
	if err := writer.Write(items); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Validate(); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
