package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/bespokelabs/curator-go/types"
)

func TestChatContents(t *testing.T) {
	msgs := []types.Message{
		{Role: types.SystemRole, Content: "be terse"},
		{Role: types.UserRole, Content: "first question"},
		{Role: types.AssistantRole, Content: "first answer"},
		{Role: types.UserRole, Content: "follow-up"},
	}
	contents := chatContents(msgs)
	if len(contents) != 3 {
		t.Fatalf("contents, expect:3, got:%d", len(contents))
	}
	wants := []struct {
		role string
		text string
	}{
		{"user", "first question"},
		{"model", "first answer"},
		{"user", "follow-up"},
	}
	for i, want := range wants {
		if contents[i].Role != want.role {
			t.Errorf("content %d role, expect:%s, got:%s", i, want.role, contents[i].Role)
		}
		if text, ok := contents[i].Parts[0].(genai.Text); !ok || string(text) != want.text {
			t.Errorf("content %d text, expect:%s, got:%v", i, want.text, contents[i].Parts[0])
		}
	}
}

func TestResponseText(t *testing.T) {
	res := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("a "), genai.Text("haiku")}},
		}},
	}
	text, err := responseText(res)
	if err != nil {
		t.Fatal(err)
	}
	if text != "a haiku" {
		t.Errorf("text, expect:a haiku, got:%s", text)
	}
	if _, err := responseText(&genai.GenerateContentResponse{}); err == nil {
		t.Error("empty candidates, expect error")
	}
}
