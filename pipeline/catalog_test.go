package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
}

func TestCatalogWriterNextSequence(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "laptops_2024_01_01_scrape1.csv", "laptops_2024_01_01_scrape2.csv")

	w := NewCatalogWriter(dir, WithClock(fixedClock))
	path, err := w.Write([]models.EnrichedItem{testItem("Alpha", "https://shop.test/a", "Brand", "Acme")}, "laptops", []string{"Brand"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if want := filepath.Join(dir, "laptops_2024_01_01_scrape3.csv"); path != want {
		t.Fatalf("path=%s, want %s", path, want)
	}
}

func TestCatalogWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "raw", "ubuy")

	w := NewCatalogWriter(dir, WithClock(fixedClock))
	path, err := w.Write(nil, "laptops", nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "laptops_2024_01_01_scrape1.csv" {
		t.Fatalf("path=%s", path)
	}
	records := readCSV(t, path)
	if len(records) != 1 || len(records[0]) != len(PrefixColumns) {
		t.Fatalf("empty snapshot records=%v, want header only", records)
	}

	again, err := w.Write(nil, "laptops", nil)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if filepath.Base(again) != "laptops_2024_01_01_scrape2.csv" {
		t.Fatalf("second path=%s", again)
	}
}

func TestCatalogWriterHeaderIsUnionOfKeys(t *testing.T) {
	dir := t.TempDir()
	items := []models.EnrichedItem{
		testItem("Alpha", "https://shop.test/a", "RAM", "16 GB", "Brand", "Acme"),
		testItem("Beta", "https://shop.test/b", "Weight", "2 kg"),
		testItem("Gamma", "https://shop.test/c"),
	}
	keys := models.KeySet{}
	for _, item := range items {
		keys.Add(item.Specs)
	}

	w := NewCatalogWriter(dir, WithClock(fixedClock))
	path, err := w.Write(items, "laptops", keys.Sorted())
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	records := readCSV(t, path)
	want := []string{"title", "price", "image_url", "product_url", "Brand", "RAM", "Weight"}
	if len(records[0]) != len(want) {
		t.Fatalf("header=%v, want %v", records[0], want)
	}
	for i := range want {
		if records[0][i] != want[i] {
			t.Fatalf("header=%v, want %v", records[0], want)
		}
	}
	if len(records) != 4 {
		t.Fatalf("rows=%d, want 3", len(records)-1)
	}
	for _, field := range records[3][4:] {
		if field != "" {
			t.Fatalf("gamma row=%v, want empty spec fields", records[3])
		}
	}
}

func TestCatalogWriterDualFormat(t *testing.T) {
	dir := t.TempDir()

	w := NewCatalogWriter(dir, WithClock(fixedClock), WithFormat(FormatDual))
	path, err := w.Write([]models.EnrichedItem{testItem("Alpha", "https://shop.test/a", "Brand", "Acme")}, "laptops", []string{"Brand"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Ext(path) != ".csv" {
		t.Fatalf("primary path=%s, want csv", path)
	}
	if _, err := os.Stat(filepath.Join(dir, "laptops_2024_01_01_scrape1.jsonl")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}

	// The sidecar counts as a snapshot, so JSON-only output continues the sequence.
	jw := NewCatalogWriter(dir, WithClock(fixedClock), WithFormat(FormatJSON))
	jsonPath, err := jw.Write(nil, "laptops", nil)
	if err != nil {
		t.Fatalf("write json: %v", err)
	}
	if filepath.Base(jsonPath) != "laptops_2024_01_01_scrape2.jsonl" {
		t.Fatalf("json path=%s", jsonPath)
	}
}

type stuckAllocator struct {
	calls int
	seqs  []int
}

func (s *stuckAllocator) Next(string, string, time.Time) (int, error) {
	seq := s.seqs[min(s.calls, len(s.seqs)-1)]
	s.calls++
	return seq, nil
}

func TestCatalogWriterReallocatesTakenName(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "laptops_2024_01_01_scrape1.csv")

	alloc := &stuckAllocator{seqs: []int{1, 2}}
	w := NewCatalogWriter(dir, WithClock(fixedClock), WithAllocator(alloc))
	path, err := w.Write(nil, "laptops", nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "laptops_2024_01_01_scrape2.csv" {
		t.Fatalf("path=%s", path)
	}
	if alloc.calls != 2 {
		t.Fatalf("allocator calls=%d, want 2", alloc.calls)
	}
}

func TestCatalogWriterGivesUpOnPersistentCollision(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "laptops_2024_01_01_scrape1.csv")

	w := NewCatalogWriter(dir, WithClock(fixedClock), WithAllocator(&stuckAllocator{seqs: []int{1}}))
	if _, err := w.Write(nil, "laptops", nil); err == nil {
		t.Fatalf("expected error when every allocation collides")
	}
}

func TestCatalogWriterRejectsEmptyCategory(t *testing.T) {
	w := NewCatalogWriter(t.TempDir())
	if _, err := w.Write(nil, "", nil); err == nil {
		t.Fatalf("expected error for empty category")
	}
}
