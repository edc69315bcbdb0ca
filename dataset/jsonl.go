package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// jsonl lines can carry whole documents; allow up to 64MB per row.
const maxLineBytes = 64 * 1024 * 1024

// FromJSONL reads a dataset from a JSON-lines file. Blank lines are skipped.
func FromJSONL(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	ds := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		row := make([]byte, len(line))
		copy(row, line)
		ds.rows = append(ds.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	return ds, nil
}

// WriteJSONL writes the dataset to a JSON-lines file, one row per line.
func (d *Dataset) WriteJSONL(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range d.Rows() {
		if _, err := w.Write(compact(row)); err != nil {
			return fmt.Errorf("dataset: write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("dataset: write %s: %w", path, err)
		}
	}
	return w.Flush()
}
