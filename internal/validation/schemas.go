package validation

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// SchemaValidator validates event payloads against their JSON schemas before
// they reach the bus. Schemas are compiled once at startup.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

var schemaFiles = map[string]string{
	"engagement-event": "schemas/engagement-event.json",
	"post-score-event": "schemas/post-score-event.json",
}

func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema, len(schemaFiles)),
	}

	for name, path := range schemaFiles {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}

	return sv, nil
}

// ValidateEngagementEvent checks a payload bound for the engagement topic.
func (sv *SchemaValidator) ValidateEngagementEvent(data interface{}) *ValidationResult {
	return sv.validate("engagement-event", data)
}

// ValidatePostScoreEvent checks a payload bound for the post-score topic.
func (sv *SchemaValidator) ValidatePostScoreEvent(data interface{}) *ValidationResult {
	return sv.validate("post-score-event", data)
}

func (sv *SchemaValidator) validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "validation",
				Message: fmt.Sprintf("Validation error: %v", err),
				Code:    "VALIDATION_ERROR",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, verr := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   verr.Field(),
			Message: verr.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   verr.Value(),
		})
	}

	return validationResult
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Err folds the error list into a single error; nil when valid.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	if len(vr.Errors) == 0 {
		return fmt.Errorf("payload failed schema validation")
	}
	return vr.Errors[0]
}
