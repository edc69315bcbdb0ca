package curator

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

var validate = validator.New()

// Prompt is what a PromptFunc produces for one row: an ordered message list.
type Prompt struct {
	Messages []types.Message
}

// UserPrompt wraps a plain string as a single user message.
func UserPrompt(text string) Prompt {
	return Prompt{Messages: []types.Message{{Role: types.UserRole, Content: text}}}
}

// SystemUserPrompt builds a system message followed by a user message.
func SystemUserPrompt(system, user string) Prompt {
	return Prompt{Messages: []types.Message{
		{Role: types.SystemRole, Content: system},
		{Role: types.UserRole, Content: user},
	}}
}

// Add appends a message to the prompt.
func (p Prompt) Add(role types.MessageRole, content string) Prompt {
	p.Messages = append(p.Messages, types.Message{Role: role, Content: content})
	return p
}

// PromptFunc formats one input row into a prompt. For a run without an
// input dataset the func is called once with the zero row.
type PromptFunc[I any] func(row I) (Prompt, error)

// Completion is what a ParseFunc receives: the completion text, plus the
// decoded response format in structured runs.
type Completion struct {
	// Text is the raw completion. In structured runs it is the canonical
	// JSON encoding of Object.
	Text string
	// Object is the decoded response format value, nil in plain-text runs.
	Object any
}

// ParseFunc turns the input row and its completion into output rows.
// Returning several rows fans one completion out into several dataset
// entries; returning none drops the row.
type ParseFunc[I, O any] func(row I, completion Completion) ([]O, error)

// responseFormatSpec captures a structured-output type registered with
// WithResponseFormat.
type responseFormatSpec struct {
	typ  reflect.Type
	name string
}

func (s *responseFormatSpec) new() any {
	return reflect.New(s.typ).Interface()
}

// PromptFormatter adapts typed prompt and parse funcs to the processor's
// untyped Formatter interface.
type PromptFormatter[I, O any] struct {
	model      string
	promptFunc PromptFunc[I]
	parseFunc  ParseFunc[I, O]
	genParams  types.GenerationParams
	format     *responseFormatSpec
}

var _ processor.Formatter = (*PromptFormatter[struct{}, struct{}])(nil)

// CreateRequest formats one raw row into a provider-neutral request.
func (f *PromptFormatter[I, O]) CreateRequest(row json.RawMessage, idx int) (*types.Request, error) {
	var in I
	if row != nil {
		if err := json.Unmarshal(row, &in); err != nil {
			return nil, fmt.Errorf("curator: decode input row %d: %w", idx, err)
		}
	}
	prompt, err := f.promptFunc(in)
	if err != nil {
		return nil, fmt.Errorf("curator: prompt func for row %d: %w", idx, err)
	}
	if len(prompt.Messages) == 0 {
		return nil, fmt.Errorf("curator: prompt func returned no messages for row %d", idx)
	}
	return &types.Request{
		Model:            f.model,
		Messages:         prompt.Messages,
		GenerationParams: f.genParams,
		OriginalRow:      row,
		OriginalRowIdx:   idx,
		StructuredOutput: f.Structured(),
	}, nil
}

// ParseResponse derives the output rows from a completed response. Parse
// failures become response errors so a bad completion fails one row, not
// the run.
func (f *PromptFormatter[I, O]) ParseResponse(resp *types.Response) {
	completion := Completion{Text: resp.Message}
	if f.Structured() {
		obj := f.format.new()
		if err := json.Unmarshal([]byte(resp.Message), obj); err != nil {
			resp.AddError(fmt.Errorf("decode structured response: %w", err))
			return
		}
		if reflect.TypeOf(obj).Elem().Kind() == reflect.Struct {
			if err := validate.Struct(obj); err != nil {
				resp.AddError(fmt.Errorf("validate structured response: %w", err))
				return
			}
		}
		completion.Object = obj
	}

	if f.parseFunc == nil {
		rows, err := f.defaultRows(completion)
		if err != nil {
			resp.AddError(err)
			return
		}
		resp.ParsedRows = rows
		return
	}

	var in I
	if resp.Request != nil && resp.Request.OriginalRow != nil {
		if err := json.Unmarshal(resp.Request.OriginalRow, &in); err != nil {
			resp.AddError(fmt.Errorf("decode original row: %w", err))
			return
		}
	}
	outs, err := f.parseFunc(in, completion)
	if err != nil {
		resp.AddError(fmt.Errorf("parse func: %w", err))
		return
	}
	rows := make([]json.RawMessage, 0, len(outs))
	for _, out := range outs {
		bs, err := json.Marshal(out)
		if err != nil {
			resp.AddError(fmt.Errorf("encode output row: %w", err))
			return
		}
		rows = append(rows, bs)
	}
	resp.ParsedRows = rows
}

// defaultRows is the parse behavior without a ParseFunc: the structured
// object, or the completion text, becomes the single output row.
func (f *PromptFormatter[I, O]) defaultRows(completion Completion) ([]json.RawMessage, error) {
	if completion.Object != nil {
		bs, err := json.Marshal(completion.Object)
		if err != nil {
			return nil, fmt.Errorf("encode structured row: %w", err)
		}
		return []json.RawMessage{bs}, nil
	}
	bs, err := json.Marshal(completion.Text)
	if err != nil {
		return nil, fmt.Errorf("encode text row: %w", err)
	}
	return []json.RawMessage{bs}, nil
}

// Structured reports whether a response format is registered.
func (f *PromptFormatter[I, O]) Structured() bool {
	return f.format != nil
}

// ResponseFormat returns a fresh response format pointer, or nil.
func (f *PromptFormatter[I, O]) ResponseFormat() any {
	if f.format == nil {
		return nil
	}
	return f.format.new()
}

// ResponseFormatName names the response format for run metadata.
func (f *PromptFormatter[I, O]) ResponseFormatName() string {
	if f.format == nil {
		return "text"
	}
	return f.format.name
}

// ResponseFormatSchema returns the canonical JSON schema of the response
// format, or "text" for plain-text runs. Cache identity keys on the schema,
// so editing a format's fields invalidates cached responses even when the
// type name stays the same.
func (f *PromptFormatter[I, O]) ResponseFormatSchema() string {
	if f.format == nil {
		return "text"
	}
	r := jsonschema.Reflector{DoNotReference: true}
	bs, err := json.Marshal(r.Reflect(f.format.new()))
	if err != nil {
		return f.format.name
	}
	return string(bs)
}
