package classify

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/shopspring/decimal"

	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
)

// Converter turns a payload into named scalars. valueName is the name of the value specification and
// is used as the scalar name, or as its prefix when the payload holds several numbers.
type Converter interface {
	Convert(valueName string, payload interface{}) (map[string]float64, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(valueName string, payload interface{}) (map[string]float64, error)

func (f ConverterFunc) Convert(valueName string, payload interface{}) (map[string]float64, error) {
	return f(valueName, payload)
}

// ConverterRegistry finds the converter of a payload by its dynamic type. Types without an exact
// registration fall back to the converter of their numeric kind, so named float and int types convert too.
type ConverterRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]Converter
}

// NewConverterRegistry returns a registry holding the built-in converters.
func NewConverterRegistry() *ConverterRegistry {
	r := &ConverterRegistry{byType: make(map[reflect.Type]Converter)}
	r.Register(decimal.Decimal{}, ConverterFunc(convertDecimal))
	r.Register(map[string]float64(nil), ConverterFunc(convertMap))
	r.Register(model.LabelledVector{}, ConverterFunc(convertLabelledVector))
	r.Register(model.ScalarSet(nil), ConverterFunc(convertScalarSet))
	return r
}

// Register installs c for the dynamic type of sample, replacing any earlier registration.
func (r *ConverterRegistry) Register(sample interface{}, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeOf(sample)] = c
}

// Lookup returns the converter for payload. ok is false for nil payloads and unregistered types.
func (r *ConverterRegistry) Lookup(payload interface{}) (c Converter, ok bool) {
	if payload == nil {
		return nil, false
	}
	typ := reflect.TypeOf(payload)

	r.mu.RLock()
	c, ok = r.byType[typ]
	r.mu.RUnlock()
	if ok {
		return c, true
	}

	switch typ.Kind() {
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ConverterFunc(convertNumber), true
	}
	return nil, false
}

func convertNumber(valueName string, payload interface{}) (map[string]float64, error) {
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return map[string]float64{valueName: v.Float()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return map[string]float64{valueName: float64(v.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]float64{valueName: float64(v.Uint())}, nil
	}
	return nil, fmt.Errorf("%T is not a number", payload)
}

func convertDecimal(valueName string, payload interface{}) (map[string]float64, error) {
	d := payload.(decimal.Decimal)
	f, _ := d.Float64()
	return map[string]float64{valueName: f}, nil
}

func labelled(valueName, label string) string {
	return valueName + "[" + label + "]"
}

func convertMap(valueName string, payload interface{}) (map[string]float64, error) {
	m := payload.(map[string]float64)
	out := make(map[string]float64, len(m))
	for label, v := range m {
		out[labelled(valueName, label)] = v
	}
	return out, nil
}

func convertLabelledVector(valueName string, payload interface{}) (map[string]float64, error) {
	vec := payload.(model.LabelledVector)
	if len(vec.Labels) != len(vec.Values) {
		return nil, fmt.Errorf("labelled vector has %d labels but %d values", len(vec.Labels), len(vec.Values))
	}
	out := make(map[string]float64, len(vec.Labels))
	for i, label := range vec.Labels {
		out[labelled(valueName, label)] = vec.Values[i]
	}
	return out, nil
}

func convertScalarSet(_ string, payload interface{}) (map[string]float64, error) {
	set := payload.(model.ScalarSet)
	out := make(map[string]float64, len(set))
	for name, v := range set {
		out[name] = v
	}
	return out, nil
}
