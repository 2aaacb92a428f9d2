package tracer

import (
	"encoding/json"
	"fmt"
)

// stringify renders an arbitrary tag/baggage value as a string the way the
// contract does: structured values (map/slice) become JSON, everything else
// uses its default formatting.
func stringify(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}
