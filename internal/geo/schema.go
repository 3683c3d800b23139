package geo

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb/geojson"
)

// FieldType is the storage type of an attribute column.
type FieldType int

// Attribute column types.
const (
	FieldString FieldType = iota
	FieldInteger
	FieldFloat
	FieldDate
	FieldLogical
)

var fieldTypeNames = map[FieldType]string{
	FieldString:  "string",
	FieldInteger: "integer",
	FieldFloat:   "float",
	FieldDate:    "date",
	FieldLogical: "logical",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Field describes one attribute column.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Width    int       `json:"width,omitempty" yaml:"width,omitempty"`
	Decimals int       `json:"decimals,omitempty" yaml:"decimals,omitempty"`
}

const (
	maxStringWidth = 254
	floatWidth     = 24
	floatDecimals  = 10
)

// InferFields derives an ordered schema from feature properties.
// Columns appear in order of first use; nil values do not influence the type.
func InferFields(features []*geojson.Feature) []Field {
	var order []string
	kinds := map[string]*fieldStats{}

	for _, f := range features {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, k := range keys {
			st, ok := kinds[k]
			if !ok {
				st = &fieldStats{}
				kinds[k] = st
				order = append(order, k)
			}
			st.observe(f.Properties[k])
		}
	}

	fields := make([]Field, 0, len(order))
	for _, name := range order {
		fields = append(fields, kinds[name].field(name))
	}
	return fields
}

type fieldStats struct {
	seen     bool
	isBool   bool
	isInt    bool
	isNumber bool
	isDate   bool
	width    int
}

func (s *fieldStats) observe(v any) {
	if v == nil {
		return
	}
	if !s.seen {
		s.seen = true
		s.isBool, s.isInt, s.isNumber, s.isDate = true, true, true, true
	}

	str := FormatValue(v)
	if n := utf8.RuneCountInString(str); n > s.width {
		s.width = n
	}

	switch x := v.(type) {
	case bool:
		s.isInt, s.isNumber, s.isDate = false, false, false
	case int, int32, int64:
		s.isBool, s.isDate = false, false
	case float64:
		s.isBool, s.isDate = false, false
		if x != math.Trunc(x) || math.Abs(x) > 1e15 {
			s.isInt = false
		}
	case float32:
		s.isBool, s.isDate = false, false
		if float64(x) != math.Trunc(float64(x)) {
			s.isInt = false
		}
	case time.Time:
		s.isBool, s.isInt, s.isNumber = false, false, false
	default:
		s.isBool, s.isInt, s.isNumber, s.isDate = false, false, false, false
	}
}

func (s *fieldStats) field(name string) Field {
	switch {
	case !s.seen:
		return Field{Name: name, Type: FieldString, Width: 1}
	case s.isBool:
		return Field{Name: name, Type: FieldLogical, Width: 1}
	case s.isDate:
		return Field{Name: name, Type: FieldDate, Width: 8}
	case s.isInt:
		return Field{Name: name, Type: FieldInteger, Width: clampWidth(s.width, 1, 18)}
	case s.isNumber:
		return Field{Name: name, Type: FieldFloat, Width: floatWidth, Decimals: floatDecimals}
	}
	return Field{Name: name, Type: FieldString, Width: clampWidth(s.width, 1, maxStringWidth)}
}

func clampWidth(w, lo, hi int) int {
	return max(lo, min(w, hi))
}

// FormatValue renders an attribute value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "T"
		}
		return "F"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format("20060102")
	default:
		return fmt.Sprint(x)
	}
}

// NormalizeName makes a column name safe for formats with restricted names.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "field"
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, name)
}
