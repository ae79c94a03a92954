// Package validation checks end-user submissions against one JSON schema
// per stage before they reach the dispatcher.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/goatkit/controlroom/internal/models"
)

// ErrUnsupportedStage is returned for stages that accept no submissions.
var ErrUnsupportedStage = errors.New("stage does not accept submissions")

// SchemaError lists every violation found in a submission.
type SchemaError struct {
	Stage  models.Stage
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s submission: %s", e.Stage, strings.Join(e.Issues, "; "))
}

var schemaSources = map[models.Stage]string{
	models.StageCredentials: `{
		"type": "object",
		"properties": {
			"username": {"type": "string", "minLength": 1, "maxLength": 255},
			"password": {"type": "string", "minLength": 1, "maxLength": 1024}
		},
		"required": ["username", "password"],
		"additionalProperties": false
	}`,
	models.StageSecretKey: `{
		"type": "object",
		"properties": {
			"secret_key": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"required": ["secret_key"],
		"additionalProperties": false
	}`,
	models.StageKYC: `{
		"type": "object",
		"properties": {
			"kyc_reference": {"type": "string", "maxLength": 255}
		}
	}`,
}

// Validator holds the compiled schemas.
type Validator struct {
	schemas map[models.Stage]*gojsonschema.Schema
}

// NewValidator compiles the built-in schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[models.Stage]*gojsonschema.Schema, len(schemaSources))}
	for st, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", st, err)
		}
		v.schemas[st] = schema
	}
	return v, nil
}

// MustNewValidator is NewValidator for package-level initialisation.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Accepts reports whether st takes end-user submissions.
func (v *Validator) Accepts(st models.Stage) bool {
	_, ok := v.schemas[st]
	return ok
}

// Validate checks data against the schema for st.
func (v *Validator) Validate(st models.Stage, data map[string]any) error {
	schema, ok := v.schemas[st]
	if !ok {
		return ErrUnsupportedStage
	}
	if data == nil {
		data = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate submission: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return &SchemaError{Stage: st, Issues: issues}
}
