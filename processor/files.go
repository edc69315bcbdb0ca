package processor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/types"
)

// Cache layout inside a working directory.
const (
	RequestsFile     = "requests.jsonl"
	ResponsesFile    = "responses.jsonl"
	BatchObjectsFile = "batch_objects.jsonl"
)

const maxLineBytes = 64 * 1024 * 1024

// BatchRequestsFile names the request shard for one batch.
func BatchRequestsFile(idx int) string {
	return fmt.Sprintf("requests_%d.jsonl", idx)
}

// BatchResponsesFile names the response shard for one batch.
func BatchResponsesFile(idx int) string {
	return fmt.Sprintf("responses_%d.jsonl", idx)
}

// WriteRequests writes requests to path unless the file already exists.
// The request file is the cache contract: it is written once per run
// directory and never rewritten, so resumed runs see identical requests.
func WriteRequests(path string, reqs []*types.Request) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("processor: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, req := range reqs {
		bs, err := json.Marshal(req)
		if err != nil {
			f.Close()
			return fmt.Errorf("processor: encode request %d: %w", req.OriginalRowIdx, err)
		}
		w.Write(bs)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadRequests loads a requests JSONL file.
func ReadRequests(path string) ([]*types.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("processor: open %s: %w", path, err)
	}
	defer f.Close()

	var out []*types.Request
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		req := new(types.Request)
		if err := json.Unmarshal(line, req); err != nil {
			return nil, fmt.Errorf("processor: decode request line: %w", err)
		}
		out = append(out, req)
	}
	return out, scanner.Err()
}

// ResponseWriter appends response lines to a JSONL file. Safe for concurrent
// use; each response is written exactly once, in arrival order.
type ResponseWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// OpenResponseWriter opens path for appending.
func OpenResponseWriter(path string) (*ResponseWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("processor: open %s: %w", path, err)
	}
	return &ResponseWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one response line and flushes it.
func (rw *ResponseWriter) Write(resp *types.Response) error {
	bs, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("processor: encode response: %w", err)
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if _, err := rw.w.Write(bs); err != nil {
		return err
	}
	if err := rw.w.WriteByte('\n'); err != nil {
		return err
	}
	return rw.w.Flush()
}

// Close closes the underlying file.
func (rw *ResponseWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.w.Flush()
	return rw.f.Close()
}

// ReadResponses loads a responses JSONL file. A missing file is an empty
// result, not an error.
func ReadResponses(path string) ([]*types.Response, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("processor: open %s: %w", path, err)
	}
	defer f.Close()

	var out []*types.Response
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := new(types.Response)
		if err := json.Unmarshal(line, resp); err != nil {
			return nil, fmt.Errorf("processor: decode response line: %w", err)
		}
		out = append(out, resp)
	}
	return out, scanner.Err()
}

// readAllResponses loads every responses shard in the working dir.
func readAllResponses(dir string) ([]*types.Response, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "responses*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []*types.Response
	for _, p := range paths {
		resps, err := ReadResponses(p)
		if err != nil {
			return nil, err
		}
		out = append(out, resps...)
	}
	return out, nil
}

// assembleDataset builds the output dataset from response parsed rows.
// Failed responses contribute nothing.
func assembleDataset(resps []*types.Response) *dataset.Dataset {
	ds := dataset.New()
	for _, resp := range resps {
		if resp.Failed() {
			continue
		}
		ds.Append(resp.ParsedRows...)
	}
	return ds
}
