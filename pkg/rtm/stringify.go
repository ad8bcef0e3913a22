// Copyright 2024-2026 Aiku AI

package rtm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Stringify converts an arbitrary value to the string form the transport
// expects for text fields and form parameters. The conversion is total:
// every input produces a string, so the wire never sees a non-string body.
//
// nil becomes the empty string, booleans become "true"/"false", finite
// numbers their decimal form, and arrays/objects their JSON serialization.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return val.String()
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
