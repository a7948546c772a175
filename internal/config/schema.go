package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed study.schema.json
var studySchemaJSON []byte

var compiledStudySchema *gojsonschema.Schema

func init() {
	loader := gojsonschema.NewBytesLoader(studySchemaJSON)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("config: embedded study schema failed to compile: %v", err))
	}
	compiledStudySchema = schema
}

// ValidateSchema checks raw study-definition JSON against the bundled
// JSON Schema before any struct decoding happens, so malformed configs
// are rejected with a precise pointer to the offending field rather
// than a generic Go unmarshal error.
func ValidateSchema(raw []byte) error {
	var probe map[string]interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}

	result, err := compiledStudySchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("schema validation failed: %v", err)}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Msg: "schema validation failed: " + strings.Join(msgs, "; ")}
	}
	return nil
}
