package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func testItem(title, url string, specs ...string) models.EnrichedItem {
	m := models.NewSpecificationMap()
	for i := 0; i+1 < len(specs); i += 2 {
		m.Set(specs[i], specs[i+1])
	}
	outcome := models.OutcomeSuccess
	if m.Len() == 0 {
		outcome = models.OutcomeFailure
	}
	return models.EnrichedItem{
		Listing: models.ListingSummary{
			Title:      title,
			Price:      "MAD 1,299.00",
			ImageURL:   "https://shop.test/img.png",
			ProductURL: url,
		},
		Specs:   m,
		Outcome: outcome,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "laptops.csv")

	writer, err := NewCSVWriter(path, []string{"Brand", "RAM"})
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	items := []models.EnrichedItem{
		testItem("Alpha, 15\"", "https://shop.test/a", "Brand", "Acme", "RAM", "16 GB"),
		testItem("Beta", "https://shop.test/b", "RAM", "8 GB"),
	}
	if err := writer.Write(items); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	wantHeader := []string{"title", "price", "image_url", "product_url", "Brand", "RAM"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Fatalf("header=%v, want %v", records[0], wantHeader)
		}
	}
	if records[1][0] != "Alpha, 15\"" {
		t.Fatalf("title not round-tripped: %q", records[1][0])
	}
	if records[2][4] != "" || records[2][5] != "8 GB" {
		t.Fatalf("row 2=%v, want empty Brand and 8 GB RAM", records[2])
	}
}

func TestCSVWriterRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken.csv")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := NewCSVWriter(path, nil)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err=%v, want fs.ErrExist", err)
	}
}

func TestHeaderRenamesCollidingKeys(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want []string
	}{
		{
			name: "prefix collisions",
			keys: []string{"Brand", "price", "title"},
			want: []string{"title", "price", "image_url", "product_url", "Brand", "spec:price", "spec:title"},
		},
		{
			name: "renamed key already present",
			keys: []string{"spec:title", "title"},
			want: []string{"title", "price", "image_url", "product_url", "spec:title", "spec:title_2"},
		},
		{
			name: "suffix already present",
			keys: []string{"spec:price", "spec:price_2", "price"},
			want: []string{"title", "price", "image_url", "product_url", "spec:price", "spec:price_2", "spec:price_3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Header(tt.keys)
			if len(got) != len(tt.want) {
				t.Fatalf("header=%v, want %v", got, tt.want)
			}
			seen := make(map[string]bool, len(got))
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("header=%v, want %v", got, tt.want)
				}
				if seen[got[i]] {
					t.Fatalf("duplicate column %q in %v", got[i], got)
				}
				seen[got[i]] = true
			}
		})
	}
}

func TestCSVWriterKeepsLiteralSpecPrefixedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laptops.csv")
	keys := []string{"spec:title", "title"}

	writer, err := NewCSVWriter(path, keys)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	item := testItem("Laptop", "https://shop.test/p/1", "title", "Pro 14", "spec:title", "Literal")
	if err := writer.Write([]models.EnrichedItem{item}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if got := records[0][4:]; got[0] != "spec:title" || got[1] != "spec:title_2" {
		t.Fatalf("spec header=%v", got)
	}
	if got := records[1][4:]; got[0] != "Literal" || got[1] != "Pro 14" {
		t.Fatalf("spec values=%v", got)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laptops.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	items := []models.EnrichedItem{
		testItem("Alpha", "https://shop.test/a", "Brand", "Acme"),
		testItem("Beta", "https://shop.test/b"),
	}
	if err := writer.Write(items); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	var decoded []jsonRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record jsonRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines=%d, want 2", len(decoded))
	}
	if decoded[0].ProductURL != "https://shop.test/a" || decoded[0].Specs["Brand"] != "Acme" {
		t.Fatalf("first record=%+v", decoded[0])
	}
	if decoded[1].Outcome != "failure" || len(decoded[1].Specs) != 0 {
		t.Fatalf("second record=%+v", decoded[1])
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "laptops.csv")
	jsonPath := filepath.Join(dir, "laptops.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath, []string{"Brand"})
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]models.EnrichedItem{testItem("Alpha", "https://shop.test/a", "Brand", "Acme")}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestDualWriterCleansUpOnSidecarFailure(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "laptops.csv")
	jsonPath := filepath.Join(dir, "laptops.jsonl")
	if err := os.WriteFile(jsonPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("seed sidecar: %v", err)
	}

	if _, err := NewDualWriter(csvPath, jsonPath, nil); err == nil {
		t.Fatalf("expected error when sidecar exists")
	}
	if _, err := os.Stat(csvPath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("csv file should be removed, stat err=%v", err)
	}
}
