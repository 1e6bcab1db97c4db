package persona

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// definitionSchema accepts both camelCase keys and the snake_case keys of
// older character files.
const definitionSchema = `{
  "type": "object",
  "required": ["name"],
  "anyOf": [
    {"required": ["characterSetting"]},
    {"required": ["character_setting"]}
  ],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "displayName": {"type": "string"},
    "characterSetting": {"type": "string", "minLength": 1},
    "character_setting": {"type": "string", "minLength": 1},
    "owner": {"type": "string"},
    "aliases": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "model": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 1},
    "maxTokens": {"$ref": "#/$defs/maxTokens"},
    "max_tokens": {"$ref": "#/$defs/maxTokens"},
    "logitBias": {"$ref": "#/$defs/logitBias"},
    "logit_bias": {"$ref": "#/$defs/logitBias"},
    "presencePenalty": {"$ref": "#/$defs/presencePenalty"},
    "presence_penalty": {"$ref": "#/$defs/presencePenalty"}
  },
  "$defs": {
    "maxTokens": {"type": "integer", "minimum": 1},
    "presencePenalty": {"type": "number", "minimum": 0, "maximum": 2},
    "logitBias": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {"type": "number", "minimum": -100, "maximum": 100}
    }
  }
}`

var schema = jsonschema.MustCompileString("persona.schema.json", definitionSchema)

// definition is the on-disk shape of a persona file.
type definition struct {
	Name                  string             `json:"name"`
	DisplayName           string             `json:"displayName"`
	CharacterSetting      string             `json:"characterSetting"`
	LegacySetting         string             `json:"character_setting"`
	Owner                 string             `json:"owner"`
	Aliases               []string           `json:"aliases"`
	Model                 string             `json:"model"`
	Temperature           *float64           `json:"temperature"`
	MaxTokens             *int               `json:"maxTokens"`
	LegacyMaxTokens       *int               `json:"max_tokens"`
	LogitBias             map[string]float64 `json:"logitBias"`
	LegacyLogitBias       map[string]float64 `json:"logit_bias"`
	PresencePenalty       *float64           `json:"presencePenalty"`
	LegacyPresencePenalty *float64           `json:"presence_penalty"`
}

// decodeDefinition parses YAML or JSON data, validates it against the schema
// and returns the typed definition.
func decodeDefinition(data []byte) (*definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if raw == nil {
		return nil, errors.New("empty document")
	}

	// Round-trip through encoding/json so the validator and the typed decode
	// both see plain JSON values.
	normalized, err := json.Marshal(normalize(raw))
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	var def definition
	if err := json.Unmarshal(normalized, &def); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &def, nil
}

// normalize turns the map[any]any values yaml produces for non-string keys
// (e.g. numeric logit bias token ids) into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
