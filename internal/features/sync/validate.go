package sync

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const validationSampleSize = 100

// maxRecordedViolations caps how many violation messages a summary
// carries; the counts stay exact.
const maxRecordedViolations = 10

func compileSchema(module, source string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema for %s: %w", module, err)
	}

	compiler := jsonschema.NewCompiler()
	name := module + ".schema.json"
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("failed to load schema for %s: %w", module, err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", module, err)
	}
	return schema, nil
}

// validateRecords checks a sample of local records against the module
// schema and reports a data-quality summary.
func validateRecords(schema *jsonschema.Schema, records []LocalRecord) *ValidationSummary {
	summary := &ValidationSummary{}
	for _, rec := range records {
		summary.Checked++
		if err := schema.Validate(rec.Fields); err != nil {
			summary.Failed++
			if len(summary.Violations) < maxRecordedViolations {
				summary.Violations = append(summary.Violations, fmt.Sprintf("%s: %v", rec.RecordID, err))
			}
			continue
		}
		summary.Passed++
	}
	return summary
}
