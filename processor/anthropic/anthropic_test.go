package anthropic

import (
	"encoding/json"
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/bespokelabs/curator-go/types"
)

func TestFillFromMessages(t *testing.T) {
	res := &anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{anthropic.NewTextMessageContent("a haiku")},
		Usage:   anthropic.MessagesUsage{InputTokens: 9, OutputTokens: 4},
	}
	resp := &types.Response{}
	if err := fillFromMessages(resp, res); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "a haiku" {
		t.Errorf("message, expect:a haiku, got:%s", resp.Message)
	}
	if resp.Usage.PromptTokens != 9 || resp.Usage.CompletionTokens != 4 || resp.Usage.TotalTokens != 13 {
		t.Errorf("usage mismatch: %+v", resp.Usage)
	}
	if len(resp.RawResponse) == 0 {
		t.Error("raw response not captured")
	}
}

func TestFillFromMessagesEmptyContent(t *testing.T) {
	resp := &types.Response{}
	if err := fillFromMessages(resp, &anthropic.MessagesResponse{}); err == nil {
		t.Error("empty content, expect error")
	}
}

// A message batches results line carries the completion under
// result.message; the decoded value must feed straight into
// fillFromMessages.
func TestBatchResultDecode(t *testing.T) {
	const line = `{"custom_id":"3","result":{"type":"succeeded","message":` +
		`{"id":"msg_1","type":"message","role":"assistant",` +
		`"content":[{"type":"text","text":"a haiku"}],` +
		`"usage":{"input_tokens":9,"output_tokens":4}}}}`
	var result anthropic.BatchResult
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		t.Fatal(err)
	}
	if result.CustomId != "3" {
		t.Errorf("custom id, expect:3, got:%s", result.CustomId)
	}
	if result.Result.Type != anthropic.ResultTypeSucceeded {
		t.Fatalf("result type, expect:succeeded, got:%s", result.Result.Type)
	}
	resp := &types.Response{}
	if err := fillFromMessages(resp, &result.Result.Result); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "a haiku" {
		t.Errorf("message, expect:a haiku, got:%s", resp.Message)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("total tokens, expect:13, got:%d", resp.Usage.TotalTokens)
	}
}
