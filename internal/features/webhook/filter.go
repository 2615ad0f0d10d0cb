package webhook

import (
	"fmt"

	"github.com/d5/tengo/v2"
)

// evalPredicate runs a filter's predicate script against one event. The
// script sees `module`, `operation` and `record` and must assign a
// boolean to `keep`; true means the event passes the filter. A filter
// without a predicate passes everything in its module/operation scope.
func evalPredicate(predicate string, event *ChangeEvent) (bool, error) {
	if predicate == "" {
		return true, nil
	}

	script := tengo.NewScript([]byte(predicate))

	script.Add("module", event.Module)
	script.Add("operation", event.Operation)
	script.Add("record", event.Data)

	compiled, err := script.Compile()
	if err != nil {
		return false, fmt.Errorf("failed to compile filter predicate: %w", err)
	}

	if err := compiled.Run(); err != nil {
		return false, fmt.Errorf("failed to run filter predicate: %w", err)
	}

	keep := compiled.Get("keep")
	if keep.IsUndefined() {
		return false, fmt.Errorf("filter predicate did not set keep")
	}
	return keep.Bool(), nil
}

// checkPredicate compiles a predicate without running it, for filter
// creation. Runtime failures against real payloads are handled at
// evaluation time.
func checkPredicate(predicate string) error {
	script := tengo.NewScript([]byte(predicate))

	script.Add("module", "")
	script.Add("operation", "")
	script.Add("record", map[string]interface{}{})

	if _, err := script.Compile(); err != nil {
		return fmt.Errorf("failed to compile filter predicate: %w", err)
	}
	return nil
}
