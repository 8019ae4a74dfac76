// File path: internal/event/truncate.go
package event

import (
	"encoding/json"
	"fmt"
)

// MaxToolOutputChars bounds the serialised size of a stored tool output.
const MaxToolOutputChars = 10000

// TruncateToolOutput enforces the tool-output size limit. Values whose JSON
// form fits under MaxToolOutputChars pass through untouched; oversize values
// are replaced with a string holding the first MaxToolOutputChars characters
// plus a marker that preserves the original length.
func TruncateToolOutput(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	serialised, ok := v.(string)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		serialised = string(raw)
	}
	runes := []rune(serialised)
	if len(runes) <= MaxToolOutputChars {
		return v
	}
	return fmt.Sprintf("%s... [truncated, %d chars total]", string(runes[:MaxToolOutputChars]), len(runes))
}
