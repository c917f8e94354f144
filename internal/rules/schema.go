package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"riskwatch/internal/risk"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// parameterSchemas mirror the creation-time limits for each rule type.
var parameterSchemas = map[risk.RuleType]string{
	risk.RuleDuration: `{
  "type": "object",
  "required": ["min_duration_seconds"],
  "properties": {
    "min_duration_seconds": {"type": "integer", "minimum": 1}
  }
}`,
	risk.RuleVolumeConsistency: `{
  "type": "object",
  "properties": {
    "min_factor": {"type": "number", "minimum": 0, "maximum": 1},
    "max_factor": {"type": "number", "minimum": 1, "maximum": 10},
    "lookback_trades": {"type": "integer", "minimum": 1, "maximum": 100}
  }
}`,
	risk.RuleOpenTradesCount: `{
  "type": "object",
  "anyOf": [
    {"required": ["min_open_trades"]},
    {"required": ["max_open_trades"]}
  ],
  "properties": {
    "time_window_minutes": {"type": "integer", "minimum": 1, "maximum": 1440},
    "min_open_trades": {"type": "integer", "minimum": 0},
    "max_open_trades": {"type": "integer", "minimum": 1}
  }
}`,
}

var (
	schemaOnce     sync.Once
	compiledSchema map[risk.RuleType]*jsonschema.Schema
	schemaErr      error
)

func compileSchemas() {
	compiledSchema = make(map[risk.RuleType]*jsonschema.Schema, len(parameterSchemas))
	for typ, raw := range parameterSchemas {
		compiler := jsonschema.NewCompiler()
		url := string(typ) + ".json"
		if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", typ, err)
			return
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", typ, err)
			return
		}
		compiledSchema[typ] = sch
	}
}

// ValidateParameters checks a parameter bag against the schema for typ.
func ValidateParameters(typ risk.RuleType, params map[string]any) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	sch, ok := compiledSchema[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRuleType, typ)
	}
	doc, err := normalizeDocument(params)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%s parameters invalid: %w", typ, err)
	}
	return nil
}

// normalizeDocument turns YAML-decoded values into JSON values and parses numeric strings.
func normalizeDocument(params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(sanitizeParams(params))
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
