package nbi

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest marks a request the control surface could not decode.
var ErrInvalidRequest = errors.New("invalid request")

// request wraps a structpb.Struct with typed field accessors. Each accessor
// reports whether the field was present so handlers can apply partial
// updates.
type request struct {
	fields map[string]*structpb.Value
}

func newRequest(in *structpb.Struct) request {
	if in == nil {
		return request{}
	}
	return request{fields: in.GetFields()}
}

func (r request) has(key string) bool {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

func (r request) number(key string) (float64, bool, error) {
	if !r.has(key) {
		return 0, false, nil
	}
	nv, ok := r.fields[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, true, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
	}
	f := nv.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%w: %s must be finite", ErrInvalidRequest, key)
	}
	return f, true, nil
}

func (r request) integer(key string) (int, bool, error) {
	f, ok, err := r.number(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, true, fmt.Errorf("%w: %s must be a whole number", ErrInvalidRequest, key)
	}
	return int(f), true, nil
}

func (r request) str(key string) (string, bool, error) {
	if !r.has(key) {
		return "", false, nil
	}
	sv, ok := r.fields[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", true, fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, key)
	}
	return strings.TrimSpace(sv.StringValue), true, nil
}
