package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1}
  }
}`

const pointSchema = `{
  "type": "object",
  "required": ["x", "y"],
  "properties": {
    "x": {"type": "number"},
    "y": {"type": "number"},
    "button": {"type": "string"}
  }
}`

const scrollSchema = `{
  "type": "object",
  "required": ["x", "y", "scroll_y"],
  "properties": {
    "x": {"type": "number"},
    "y": {"type": "number"},
    "scroll_x": {"type": "number"},
    "scroll_y": {"type": "number"}
  }
}`

const keypressSchema = `{
  "type": "object",
  "required": ["keys"],
  "properties": {
    "keys": {"type": "array", "items": {"type": "string"}}
  }
}`

const typeSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"}
  }
}`

type schemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	kinds    map[Kind]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("action", envelopeSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.envelope = envelope

		kinds := map[Kind]string{
			KindClick:    pointSchema,
			KindScroll:   scrollSchema,
			KindKeypress: keypressSchema,
			KindType:     typeSchema,
		}
		schemas.kinds = make(map[Kind]*jsonschema.Schema, len(kinds))
		for kind, src := range kinds {
			compiled, err := jsonschema.CompileString("action_"+string(kind), src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.kinds[kind] = compiled
		}
	})
	return schemas.initErr
}

type pointPayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button"`
}

type scrollPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

type keypressPayload struct {
	Keys []string `json:"keys"`
}

type typePayload struct {
	Text string `json:"text"`
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	err := json.Unmarshal(raw, &payload)
	return payload, err
}

// Parse decodes an agent action payload. It never fails: payloads with an
// unknown tag or fields of the wrong shape come back as Unrecognized with
// the reason attached.
func Parse(raw json.RawMessage) Action {
	raw = bytes.TrimSpace(raw)
	unrecognized := func(tag string, format string, args ...any) Action {
		return Unrecognized{Type: tag, Raw: append(json.RawMessage(nil), raw...), Reason: fmt.Sprintf(format, args...)}
	}

	if err := initSchemas(); err != nil {
		return unrecognized("", "compile action schemas: %v", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return unrecognized("", "decode action: %v", err)
	}
	if err := schemas.envelope.Validate(doc); err != nil {
		return unrecognized("", "invalid action: %v", err)
	}

	tag, _ := doc.(map[string]any)["type"].(string)
	kind := Kind(tag)
	switch kind {
	case KindWait:
		return Wait{}
	case KindScreenshot:
		return Screenshot{}
	}

	schema := schemas.kinds[kind]
	if schema == nil {
		return unrecognized(tag, "unsupported action type")
	}
	if err := schema.Validate(doc); err != nil {
		return unrecognized(tag, "invalid %s action: %v", kind, err)
	}

	var (
		action Action
		err    error
	)
	switch kind {
	case KindClick:
		var p pointPayload
		p, err = decodePayload[pointPayload](raw)
		action = Click{X: p.X, Y: p.Y, Button: p.Button}
	case KindScroll:
		var p scrollPayload
		p, err = decodePayload[scrollPayload](raw)
		action = Scroll{X: p.X, Y: p.Y, ScrollX: int(p.ScrollX), ScrollY: int(p.ScrollY)}
	case KindKeypress:
		var p keypressPayload
		p, err = decodePayload[keypressPayload](raw)
		action = Keypress{Keys: p.Keys}
	default:
		var p typePayload
		p, err = decodePayload[typePayload](raw)
		action = TypeText{Text: p.Text}
	}
	if err != nil {
		return unrecognized(tag, "decode %s action: %v", kind, err)
	}
	return action
}
