// Package dataset holds the row container generation runs consume and
// produce. Rows are kept in canonical JSON form so datasets round-trip
// through JSONL files and hash deterministically.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var ErrRowDecode = errors.New("dataset: row decode failed")

// Dataset is an ordered collection of JSON rows with random access.
// A nil *Dataset behaves as an empty dataset.
type Dataset struct {
	rows []json.RawMessage
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{}
}

// FromList builds a dataset from a slice of JSON-encodable values.
func FromList[T any](items []T) (*Dataset, error) {
	ds := &Dataset{rows: make([]json.RawMessage, 0, len(items))}
	for i, item := range items {
		bs, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("dataset: encode row %d: %w", i, err)
		}
		ds.rows = append(ds.rows, bs)
	}
	return ds, nil
}

// FromMaps builds a dataset from generic rows.
func FromMaps(rows []map[string]any) (*Dataset, error) {
	return FromList(rows)
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// Row returns the raw row at idx.
func (d *Dataset) Row(idx int) json.RawMessage {
	return d.rows[idx]
}

// Rows returns the underlying raw rows.
func (d *Dataset) Rows() []json.RawMessage {
	if d == nil {
		return nil
	}
	return d.rows
}

// Append adds raw rows to the dataset.
func (d *Dataset) Append(rows ...json.RawMessage) {
	d.rows = append(d.rows, rows...)
}

// Take returns a new dataset with the first n rows.
func (d *Dataset) Take(n int) *Dataset {
	if d == nil || n <= 0 {
		return New()
	}
	if n > len(d.rows) {
		n = len(d.rows)
	}
	out := &Dataset{rows: make([]json.RawMessage, n)}
	copy(out.rows, d.rows[:n])
	return out
}

// Map transforms every row through fn into a new dataset.
func (d *Dataset) Map(fn func(json.RawMessage) (json.RawMessage, error)) (*Dataset, error) {
	out := &Dataset{rows: make([]json.RawMessage, 0, d.Len())}
	for i, row := range d.Rows() {
		mapped, err := fn(row)
		if err != nil {
			return nil, fmt.Errorf("dataset: map row %d: %w", i, err)
		}
		out.rows = append(out.rows, mapped)
	}
	return out, nil
}

// SelectColumns keeps only the named keys of every row.
func (d *Dataset) SelectColumns(cols ...string) (*Dataset, error) {
	return d.Map(func(row json.RawMessage) (json.RawMessage, error) {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(row, &m); err != nil {
			return nil, err
		}
		out := make(map[string]json.RawMessage, len(cols))
		for _, c := range cols {
			if v, ok := m[c]; ok {
				out[c] = v
			}
		}
		return json.Marshal(out)
	})
}

// Fingerprint hashes the dataset content. An empty or nil dataset hashes the
// empty string, matching the fingerprint of a run with no input rows.
func (d *Dataset) Fingerprint() string {
	h := xxhash.New()
	for _, row := range d.Rows() {
		h.Write(compact(row))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Decode unmarshals every row into T.
func Decode[T any](d *Dataset) ([]T, error) {
	out := make([]T, 0, d.Len())
	for i, row := range d.Rows() {
		var v T
		if err := json.Unmarshal(row, &v); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrRowDecode, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeRow unmarshals the row at idx into T.
func DecodeRow[T any](d *Dataset, idx int) (T, error) {
	var v T
	if err := json.Unmarshal(d.Row(idx), &v); err != nil {
		return v, fmt.Errorf("%w: row %d: %v", ErrRowDecode, idx, err)
	}
	return v, nil
}

func compact(row json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, row); err != nil {
		return row
	}
	return buf.Bytes()
}
