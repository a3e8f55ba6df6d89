package responses

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Output item types the loop cares about.
const (
	ItemComputerCall = "computer_call"
	ItemMessage      = "message"
	ItemReasoning    = "reasoning"
)

// ToolSpec declares the controllable surface to the agent.
type ToolSpec struct {
	Type          string `json:"type"`
	DisplayWidth  int    `json:"display_width"`
	DisplayHeight int    `json:"display_height"`
	Environment   string `json:"environment"`
}

// DefaultToolSpec is a 1024x768 browser surface.
func DefaultToolSpec() ToolSpec {
	return ToolSpec{
		Type:          "computer_use_preview",
		DisplayWidth:  1024,
		DisplayHeight: 768,
		Environment:   "browser",
	}
}

// Turn is one agent response.
type Turn struct {
	ID     string           `json:"id"`
	Status string           `json:"status,omitempty"`
	Model  string           `json:"model,omitempty"`
	Output []OutputItem     `json:"output"`
	Error  *openai.APIError `json:"error,omitempty"`
}

// FirstComputerCall returns the first computer call in the turn. Later calls
// in the same turn are never acted on.
func (t *Turn) FirstComputerCall() (OutputItem, bool) {
	if t == nil {
		return OutputItem{}, false
	}
	for _, item := range t.Output {
		if item.IsComputerCall() {
			return item, true
		}
	}
	return OutputItem{}, false
}

// SafetyCheck is a pending check attached to a computer call.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ContentPart is one part of a message or reasoning summary.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// OutputItem is one entry of a turn's output. Raw keeps the item as received.
type OutputItem struct {
	Type                string          `json:"type"`
	ID                  string          `json:"id,omitempty"`
	Status              string          `json:"status,omitempty"`
	CallID              string          `json:"call_id,omitempty"`
	Action              json.RawMessage `json:"action,omitempty"`
	PendingSafetyChecks []SafetyCheck   `json:"pending_safety_checks,omitempty"`
	Role                string          `json:"role,omitempty"`
	Content             []ContentPart   `json:"content,omitempty"`
	Summary             []ContentPart   `json:"summary,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (o *OutputItem) UnmarshalJSON(data []byte) error {
	type plain OutputItem
	var item plain
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*o = OutputItem(item)
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// IsComputerCall reports whether the item asks for an action.
func (o OutputItem) IsComputerCall() bool {
	return o.Type == ItemComputerCall
}

// Text renders the item for an operator: message text, reasoning summary,
// or the raw item for anything else.
func (o OutputItem) Text() string {
	var parts []ContentPart
	switch o.Type {
	case ItemMessage:
		parts = o.Content
	case ItemReasoning:
		parts = o.Summary
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(o.Raw) > 0 {
		return string(o.Raw)
	}
	raw, _ := json.Marshal(o)
	return string(raw)
}

type inputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type userMessage struct {
	Role    string      `json:"role"`
	Content []inputText `json:"content"`
}

type inputImage struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type callOutput struct {
	Type                     string        `json:"type"`
	CallID                   string        `json:"call_id"`
	Output                   inputImage    `json:"output"`
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`
}

type request struct {
	Model              string     `json:"model"`
	PreviousResponseID string     `json:"previous_response_id,omitempty"`
	Tools              []ToolSpec `json:"tools"`
	Input              []any      `json:"input"`
	Truncation         string     `json:"truncation,omitempty"`
}
