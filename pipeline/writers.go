package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// PrefixColumns lead every snapshot, ahead of the spec columns.
var PrefixColumns = []string{"title", "price", "image_url", "product_url"}

// OutputWriter defines the interface for snapshot output.
type OutputWriter interface {
	Write(items []models.EnrichedItem) error
	Close() error
	Validate() error
}

// CSVWriter writes items as CSV rows under a fixed header.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	keys    []string
	written int
	mu      sync.Mutex
}

// NewCSVWriter creates filename, which must not exist yet, and writes the
// prefix columns followed by one column per spec key.
func NewCSVWriter(filename string, keys []string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := createExclusive(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(Header(keys)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
		keys:   append([]string(nil), keys...),
	}, nil
}

// Header returns the column names for keys. A spec key that collides with a
// prefix column is renamed to spec:<key>, with a numeric suffix when that
// name is also taken, so every column name is distinct.
func Header(keys []string) []string {
	prefix := make(map[string]struct{}, len(PrefixColumns))
	for _, col := range PrefixColumns {
		prefix[col] = struct{}{}
	}
	used := make(map[string]struct{}, len(PrefixColumns)+len(keys))
	for _, col := range PrefixColumns {
		used[col] = struct{}{}
	}
	for _, key := range keys {
		used[key] = struct{}{}
	}

	header := make([]string, 0, len(PrefixColumns)+len(keys))
	header = append(header, PrefixColumns...)
	for _, key := range keys {
		if _, clash := prefix[key]; clash {
			name := "spec:" + key
			for n := 2; ; n++ {
				if _, taken := used[name]; !taken {
					break
				}
				name = fmt.Sprintf("spec:%s_%d", key, n)
			}
			used[name] = struct{}{}
			key = name
		}
		header = append(header, key)
	}
	return header
}

// Write appends one row per item. Specs missing from an item are left empty.
func (cw *CSVWriter) Write(items []models.EnrichedItem) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, item := range items {
		record := make([]string, 0, len(PrefixColumns)+len(cw.keys))
		record = append(record,
			item.Listing.Title,
			item.Listing.Price,
			item.Listing.ImageURL,
			item.Listing.ProductURL,
		)
		for _, key := range cw.keys {
			value, _ := item.Specs.Get(key)
			record = append(record, value)
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.written++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least the header reached the file.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// Path returns the file being written.
func (cw *CSVWriter) Path() string {
	return cw.file.Name()
}

type jsonRecord struct {
	models.ListingSummary
	Specs   map[string]string `json:"specs"`
	Outcome string            `json:"outcome"`
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	written int
	mu      sync.Mutex
}

// NewJSONWriter creates filename, which must not exist yet.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := createExclusive(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends items in JSONL format.
func (jw *JSONWriter) Write(items []models.EnrichedItem) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, item := range items {
		record := jsonRecord{
			ListingSummary: item.Listing,
			Specs:          item.Specs.AsMap(),
			Outcome:        item.Outcome.String(),
		}
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.written++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures every written record reached the file.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if jw.written > 0 && info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// Path returns the file being written.
func (jw *JSONWriter) Path() string {
	return jw.file.Name()
}

func createExclusive(filename string) (*os.File, error) {
	return os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
