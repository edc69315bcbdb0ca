package curator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bespokelabs/curator-go/types"
)

type topicRow struct {
	Topic string `json:"topic"`
}

type ideaList struct {
	Ideas []string `json:"ideas" validate:"required,min=1"`
}

func topicPrompt(row topicRow) (Prompt, error) {
	return SystemUserPrompt("You brainstorm ideas.", "Topic: "+row.Topic), nil
}

func TestCreateRequest(t *testing.T) {
	llm, err := New[topicRow, string](topicPrompt, nil, WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatal(err)
	}
	row := json.RawMessage(`{"topic":"gophers"}`)
	req, err := llm.formatter.CreateRequest(row, 7)
	if err != nil {
		t.Fatal(err)
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("model, expect:gpt-4o-mini, got:%s", req.Model)
	}
	if req.OriginalRowIdx != 7 {
		t.Errorf("row idx, expect:7, got:%d", req.OriginalRowIdx)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages, expect:2, got:%d", len(req.Messages))
	}
	if req.Messages[1].Content != "Topic: gophers" {
		t.Errorf("user message: %s", req.Messages[1].Content)
	}
	if req.StructuredOutput {
		t.Error("plain-text request marked structured")
	}
}

func TestCreateRequestNilRow(t *testing.T) {
	llm, err := New[topicRow, string](topicPrompt, nil, WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatal(err)
	}
	req, err := llm.formatter.CreateRequest(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if req.Messages[1].Content != "Topic: " {
		t.Errorf("zero row prompt: %s", req.Messages[1].Content)
	}
}

func TestCreateRequestEmptyPrompt(t *testing.T) {
	llm, err := New[topicRow, string](
		func(topicRow) (Prompt, error) { return Prompt{}, nil },
		nil,
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := llm.formatter.CreateRequest(nil, 0); err == nil {
		t.Error("expected an error for an empty prompt")
	}
}

func TestParseResponseDefaultText(t *testing.T) {
	llm, err := New[topicRow, string](topicPrompt, nil, WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatal(err)
	}
	resp := &types.Response{Message: "a fine idea"}
	llm.formatter.ParseResponse(resp)
	if resp.Failed() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if len(resp.ParsedRows) != 1 {
		t.Fatalf("parsed rows, expect:1, got:%d", len(resp.ParsedRows))
	}
	var text string
	if err := json.Unmarshal(resp.ParsedRows[0], &text); err != nil {
		t.Fatal(err)
	}
	if text != "a fine idea" {
		t.Errorf("row content: %s", text)
	}
}

func TestParseResponseFanOut(t *testing.T) {
	llm, err := New(
		topicPrompt,
		func(row topicRow, completion Completion) ([]string, error) {
			return []string{row.Topic + ": one", row.Topic + ": two"}, nil
		},
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatal(err)
	}
	resp := &types.Response{
		Message: "ignored",
		Request: &types.Request{OriginalRow: json.RawMessage(`{"topic":"go"}`)},
	}
	llm.formatter.ParseResponse(resp)
	if resp.Failed() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	if len(resp.ParsedRows) != 2 {
		t.Fatalf("parsed rows, expect:2, got:%d", len(resp.ParsedRows))
	}
}

func TestParseResponseStructured(t *testing.T) {
	llm, err := New[topicRow, ideaList](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithResponseFormat(ideaList{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if !llm.formatter.Structured() {
		t.Fatal("formatter not structured")
	}
	if llm.formatter.ResponseFormatName() != "ideaList" {
		t.Errorf("format name: %s", llm.formatter.ResponseFormatName())
	}

	resp := &types.Response{Message: `{"ideas":["a","b"]}`}
	llm.formatter.ParseResponse(resp)
	if resp.Failed() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	var got ideaList
	if err := json.Unmarshal(resp.ParsedRows[0], &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Ideas) != 2 {
		t.Errorf("ideas, expect:2, got:%d", len(got.Ideas))
	}
}

func TestParseResponseStructuredFailures(t *testing.T) {
	llm, err := New[topicRow, ideaList](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithResponseFormat(ideaList{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		message string
	}{
		{"not json", "sorry, no ideas today"},
		{"fails validation", `{"ideas":[]}`},
	}
	for _, tt := range tests {
		resp := &types.Response{Message: tt.message}
		llm.formatter.ParseResponse(resp)
		if !resp.Failed() {
			t.Errorf("%s: expected a failed response", tt.name)
		}
	}
}

func TestParseResponseParseFuncError(t *testing.T) {
	llm, err := New(
		topicPrompt,
		func(topicRow, Completion) ([]string, error) {
			return nil, errors.New("bad completion")
		},
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatal(err)
	}
	resp := &types.Response{Message: "whatever"}
	llm.formatter.ParseResponse(resp)
	if !resp.Failed() {
		t.Error("parse func error did not fail the response")
	}
}

func TestPromptAdd(t *testing.T) {
	p := UserPrompt("hello").Add(types.AssistantRole, "hi")
	if len(p.Messages) != 2 {
		t.Fatalf("messages, expect:2, got:%d", len(p.Messages))
	}
	if p.Messages[1].Role != types.AssistantRole {
		t.Errorf("role: %s", p.Messages[1].Role)
	}
}
