package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lambda-feedback/duet/util"
)

//go:embed schema.json
var configSchema json.RawMessage
var configSchemaLoader = gojsonschema.NewBytesLoader(configSchema)

var schema = util.Must(gojsonschema.NewSchema(configSchemaLoader))

// ValidationError lists the violations of the config schema.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Violations, "; "))
}

// Validate checks the raw, merged config against the config schema.
// Timeouts must be duration strings; bare numbers from files are
// rejected rather than read as nanoseconds.
func Validate(raw map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(withDurationStrings(raw)))
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return &ValidationError{Violations: violations}
}

// withDurationStrings returns a copy of raw in which typed durations,
// as set by defaults and cli flags, are replaced by their string form.
func withDurationStrings(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))

	for k, v := range raw {
		if d, ok := v.(time.Duration); ok {
			out[k] = d.String()
		} else {
			out[k] = v
		}
	}

	return out
}
