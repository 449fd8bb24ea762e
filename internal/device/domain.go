package device

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Kind is the value type of a capability field.
type Kind int

// Field value kinds.
const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindEnum
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// Domain is the declared value domain of a capability field.
type Domain struct {
	Kind Kind

	// Min and Max bound int and float values (inclusive).
	Min float64
	Max float64

	// Values lists the accepted enum strings.
	Values []string
}

// Bool returns a boolean domain.
func Bool() Domain { return Domain{Kind: KindBool} }

// IntRange returns an inclusive integer domain.
func IntRange(minValue, maxValue int) Domain {
	return Domain{Kind: KindInt, Min: float64(minValue), Max: float64(maxValue)}
}

// FloatRange returns an inclusive float domain.
func FloatRange(minValue, maxValue float64) Domain {
	return Domain{Kind: KindFloat, Min: minValue, Max: maxValue}
}

// Enum returns a string enum domain.
func Enum(values ...string) Domain { return Domain{Kind: KindEnum, Values: values} }

// Validate checks value against the domain and returns it in canonical form:
// bool, int, float64 or string. JSON numbers (float64, json.Number) and
// numeric strings are accepted for int and float domains.
//
// Returns ErrInvalidValue (wrapped) when the value is outside the domain.
func (d Domain) Validate(value any) (any, error) {
	switch d.Kind {
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, value)
		}
		return b, nil

	case KindInt:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: want integer, got %v", ErrInvalidValue, value)
		}
		if f < d.Min || f > d.Max {
			return nil, fmt.Errorf("%w: %v outside [%v, %v]", ErrInvalidValue, value, d.Min, d.Max)
		}
		return int(f), nil

	case KindFloat:
		f, ok := toFloat(value)
		if !ok || math.IsNaN(f) {
			return nil, fmt.Errorf("%w: want number, got %v", ErrInvalidValue, value)
		}
		if f < d.Min || f > d.Max {
			return nil, fmt.Errorf("%w: %v outside [%v, %v]", ErrInvalidValue, value, d.Min, d.Max)
		}
		return f, nil

	case KindEnum:
		s, ok := value.(string)
		if !ok || !slices.Contains(d.Values, s) {
			return nil, fmt.Errorf("%w: %v not one of %v", ErrInvalidValue, value, d.Values)
		}
		return s, nil
	}

	return nil, fmt.Errorf("%w: unknown domain kind %d", ErrInvalidValue, d.Kind)
}

// Contains reports whether value is inside the domain.
func (d Domain) Contains(value any) bool {
	_, err := d.Validate(value)
	return err == nil
}

// toFloat converts the numeric shapes that arrive from JSON, YAML and Go callers.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
