// Package pipeline persists crawl results as versioned catalog snapshots.
package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout        = "2006_01_02"
	sequenceDelimiter = "_scrape"
)

var snapshotExtensions = []string{".csv", ".jsonl"}

// SnapshotFile identifies one snapshot of a category.
type SnapshotFile struct {
	Category string
	Date     time.Time
	Sequence int
}

// Name returns the file name for ext, e.g. laptops_2024_01_01_scrape3.csv.
func (s SnapshotFile) Name(ext string) string {
	return fmt.Sprintf("%s_%s%s%d%s", s.Category, s.Date.Format(dateLayout), sequenceDelimiter, s.Sequence, ext)
}

// SequenceOf extracts the sequence number of a snapshot file belonging to
// category. Names that do not look like snapshots report false.
func SequenceOf(name, category string) (int, bool) {
	if !strings.HasPrefix(name, category+"_") {
		return 0, false
	}

	base := ""
	for _, ext := range snapshotExtensions {
		if strings.HasSuffix(name, ext) {
			base = strings.TrimSuffix(name, ext)
			break
		}
	}
	if base == "" {
		return 0, false
	}

	idx := strings.LastIndex(base, sequenceDelimiter)
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[idx+len(sequenceDelimiter):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// SequenceAllocator hands out the next snapshot sequence number.
type SequenceAllocator interface {
	Next(dir, category string, date time.Time) (int, error)
}

// DirScanAllocator derives the next sequence from the files already in the
// output directory. It assumes a single writer per directory.
type DirScanAllocator struct{}

// Next returns the highest sequence found for category plus one.
func (DirScanAllocator) Next(dir, category string, _ time.Time) (int, error) {
	highest, err := highestSequence(dir, category)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func highestSequence(dir, category string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan output directory: %w", err)
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if n, ok := SequenceOf(entry.Name(), category); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}
