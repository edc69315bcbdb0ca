package processor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bespokelabs/curator-go/types"
)

func testRequests(n int) []*types.Request {
	out := make([]*types.Request, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &types.Request{
			Model:          "gpt-4o-mini",
			Messages:       []types.Message{{Role: types.UserRole, Content: "hi"}},
			OriginalRowIdx: i,
		})
	}
	return out
}

func TestWriteRequestsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), RequestsFile)
	if err := WriteRequests(path, testRequests(3)); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// A second write with different content must not touch the file.
	if err := WriteRequests(path, testRequests(5)); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("request file was rewritten")
	}

	reqs, err := ReadRequests(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 3 {
		t.Errorf("read len, expect:3, got:%d", len(reqs))
	}
	for i, req := range reqs {
		if req.OriginalRowIdx != i {
			t.Errorf("row idx, expect:%d, got:%d", i, req.OriginalRowIdx)
		}
	}
}

func TestResponseWriterAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResponsesFile)
	w, err := OpenResponseWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(&types.Response{Message: "one", Request: &types.Request{OriginalRowIdx: 0}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening appends, mirroring a resumed run.
	w, err = OpenResponseWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(&types.Response{Message: "two", Request: &types.Request{OriginalRowIdx: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resps, err := ReadResponses(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 2 {
		t.Fatalf("read len, expect:2, got:%d", len(resps))
	}
	if resps[0].Message != "one" || resps[1].Message != "two" {
		t.Errorf("order mismatch: %q, %q", resps[0].Message, resps[1].Message)
	}
}

func TestReadResponsesMissingFile(t *testing.T) {
	resps, err := ReadResponses(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if resps != nil {
		t.Errorf("missing file, expect:nil, got:%v", resps)
	}
}

func TestShardFileNames(t *testing.T) {
	if got := BatchRequestsFile(2); got != "requests_2.jsonl" {
		t.Errorf("requests shard name: %s", got)
	}
	if got := responsesFileFor("requests_2.jsonl"); got != "responses_2.jsonl" {
		t.Errorf("responses shard name: %s", got)
	}
	if got := responsesFileFor(RequestsFile); got != ResponsesFile {
		t.Errorf("unsharded responses name: %s", got)
	}
}
