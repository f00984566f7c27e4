package http

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/request.json
var requestSchemaJSON []byte

var requestSchema = mustCompileSchema(requestSchemaJSON)

func mustCompileSchema(schemaJSON []byte) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// ValidateRequestBody checks a verify or settle body against the request schema.
// All violations are reported in one error.
func ValidateRequestBody(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("request body is empty")
	}

	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(violations, "; "))
}
