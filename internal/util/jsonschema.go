package util

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// GenerateJSONSchema returns an inline JSON schema for the given object type,
// shaped for function parameters and strict response formats.
// The object should be a pointer to a struct to capture fields and tags.
func GenerateJSONSchema(obj any) json.RawMessage {
	if obj == nil {
		return emptyObjectSchema
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(obj)
	b, err := json.Marshal(schema)
	if err != nil {
		return emptyObjectSchema
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return emptyObjectSchema
	}
	delete(m, "$schema")
	delete(m, "$id")
	AdjustSchema(m)
	out, err := json.Marshal(m)
	if err != nil {
		return emptyObjectSchema
	}
	return out
}

// AdjustSchema makes every object with properties carry a "required" list,
// which strict structured-output endpoints insist on.
func AdjustSchema(schema map[string]any) {
	switch schema["type"] {
	case "object":
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			return
		}
		if _, ok := schema["required"]; !ok {
			schema["required"] = []any{}
		}
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				AdjustSchema(pm)
			}
		}
	case "array":
		if items, ok := schema["items"].(map[string]any); ok {
			AdjustSchema(items)
		}
	}
}

// IsStringType reports whether T is string for generics handling.
func IsStringType[T any]() bool {
	var zero T
	return reflect.TypeOf(zero) == reflect.TypeOf("")
}
