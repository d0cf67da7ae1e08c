package suggest

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// PrimitiveType is the observed kind of the values at a path.
type PrimitiveType string

// Observed kinds, in tie-break order.
const (
	TypeString  PrimitiveType = "String"
	TypeNumber  PrimitiveType = "Number"
	TypeDate    PrimitiveType = "Date"
	TypeCode    PrimitiveType = "Code"
	TypeBoolean PrimitiveType = "Boolean"
	TypeObject  PrimitiveType = "Object"
	TypeUnknown PrimitiveType = "Unknown"
)

var primitiveOrder = []PrimitiveType{TypeString, TypeNumber, TypeDate, TypeCode, TypeBoolean, TypeObject, TypeUnknown}

var (
	datePattern = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2}(T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:\d{2})?)?)?)?$`)
	codePattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)
)

// kindOf classifies one value.
func kindOf(v any) PrimitiveType {
	switch x := v.(type) {
	case bool:
		return TypeBoolean
	case json.Number, float64, float32, int, int64:
		return TypeNumber
	case map[string]any:
		return TypeObject
	case string:
		switch {
		case datePattern.MatchString(x):
			return TypeDate
		case codePattern.MatchString(x):
			return TypeCode
		}
		return TypeString
	}
	return TypeUnknown
}

// textual reports whether values of kind t can carry a format or an
// enumeration.
func textual(t PrimitiveType) bool {
	return t == TypeString || t == TypeCode || t == TypeDate
}

const (
	classDigit  = '9'
	classLetter = 'a'

	// maxRuns bounds a signature; longer values are free text.
	maxRuns = 12
)

// run is a maximal stretch of one character class. Literal runs repeat a
// single character.
type run struct {
	class   rune
	literal rune
	n       int
}

func (r run) token() string {
	if r.class != 0 {
		return string(r.class)
	}
	return "'" + string(r.literal)
}

func classOf(c rune) rune {
	switch {
	case c >= '0' && c <= '9':
		return classDigit
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return classLetter
	}
	return 0
}

// signature splits s into character-class runs. The key names the run
// sequence without lengths; false means s has no usable format.
func signature(s string) (string, []run, bool) {
	if s == "" {
		return "", nil, false
	}
	var runs []run
	for _, c := range s {
		cl := classOf(c)
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if (cl != 0 && last.class == cl) || (cl == 0 && last.class == 0 && last.literal == c) {
				last.n++
				continue
			}
		}
		r := run{class: cl, n: 1}
		if cl == 0 {
			r.literal = c
		}
		runs = append(runs, r)
		if len(runs) > maxRuns {
			return "", nil, false
		}
	}
	tokens := make([]string, len(runs))
	for i, r := range runs {
		tokens[i] = r.token()
	}
	return strings.Join(tokens, " "), runs, true
}

// shape accumulates the run length bounds of one signature.
type shape struct {
	count int
	runs  []run
	min   []int
	max   []int
}

func newShape(runs []run) *shape {
	sh := &shape{runs: runs, min: make([]int, len(runs)), max: make([]int, len(runs))}
	for i, r := range runs {
		sh.min[i], sh.max[i] = r.n, r.n
	}
	return sh
}

func (sh *shape) add(runs []run, count int) {
	sh.count += count
	for i, r := range runs {
		sh.min[i] = min(sh.min[i], r.n)
		sh.max[i] = max(sh.max[i], r.n)
	}
}

func (sh *shape) merge(o *shape) {
	sh.count += o.count
	for i := range sh.min {
		sh.min[i] = min(sh.min[i], o.min[i])
		sh.max[i] = max(sh.max[i], o.max[i])
	}
}

// regex renders the shape as an anchored pattern, e.g. "^[0-9]{4,5}-[0-9]$".
func (sh *shape) regex() string {
	var sb strings.Builder
	sb.WriteByte('^')
	for i, r := range sh.runs {
		switch r.class {
		case classDigit:
			sb.WriteString("[0-9]")
		case classLetter:
			sb.WriteString("[A-Za-z]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r.literal)))
		}
		lo, hi := sh.min[i], sh.max[i]
		switch {
		case lo == hi && lo == 1:
		case lo == hi:
			sb.WriteString("{" + strconv.Itoa(lo) + "}")
		default:
			sb.WriteString("{" + strconv.Itoa(lo) + "," + strconv.Itoa(hi) + "}")
		}
	}
	sb.WriteByte('$')
	return sb.String()
}
