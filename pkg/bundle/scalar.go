package bundle

import (
	"encoding/json"
	"strconv"
)

// Scalar renders a primitive value in its canonical text form. Objects,
// arrays and null report false.
//
// Numbers compare by text, so 1 and 1.0 are different values; FHIR treats
// decimal precision as significant.
func Scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	}
	return "", false
}
