package vectorstore

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Filter is an equality predicate over metadata keys. Each key maps to a
// scalar (string, number, bool), {"$eq": scalar} or {"$in": [scalars]}. All
// keys must match. Other shapes fail with ErrUnsupportedFilter.
type Filter map[string]any

// Condition is one normalized filter term: Key must equal one of Values.
// Numbers are normalized to float64.
type Condition struct {
	Key    string
	Values []any
}

// Conditions validates f and returns its terms sorted by key.
func (f Filter) Conditions() ([]Condition, error) {
	conds := make([]Condition, 0, len(f))
	for key, raw := range f {
		if key == "" || strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: operator %q at top level", ErrUnsupportedFilter, key)
		}
		values, err := conditionValues(key, raw)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Key: key, Values: values})
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].Key < conds[j].Key })
	return conds, nil
}

func conditionValues(key string, raw any) ([]any, error) {
	op, ok := raw.(map[string]any)
	if !ok {
		v, err := scalar(key, raw)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}
	if len(op) != 1 {
		return nil, fmt.Errorf("%w: %q needs exactly one operator", ErrUnsupportedFilter, key)
	}
	for name, arg := range op {
		switch name {
		case "$eq":
			v, err := scalar(key, arg)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		case "$in":
			list, err := anySlice(arg)
			if err != nil || len(list) == 0 {
				return nil, fmt.Errorf("%w: %q $in needs a non-empty list", ErrUnsupportedFilter, key)
			}
			out := make([]any, len(list))
			for i, item := range list {
				v, err := scalar(key, item)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		default:
			return nil, fmt.Errorf("%w: operator %q on %q", ErrUnsupportedFilter, name, key)
		}
	}
	return nil, nil
}

func anySlice(v any) ([]any, error) {
	switch l := v.(type) {
	case []any:
		return l, nil
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list: %T", v)
	}
}

// scalar normalizes a filter value. Numbers become float64.
func scalar(key string, v any) (any, error) {
	if n, ok := toFloat(v); ok {
		return n, nil
	}
	switch v.(type) {
	case string, bool:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q compares against %T", ErrUnsupportedFilter, key, v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// matches reports whether metadata satisfies every condition. Only scalar
// metadata values can match.
func matches(conds []Condition, metadata map[string]any) bool {
	for _, c := range conds {
		v, ok := metadata[c.Key]
		if !ok {
			return false
		}
		if n, isNum := toFloat(v); isNum {
			v = n
		}
		switch v.(type) {
		case string, bool, float64:
		default:
			return false
		}
		if !slices.Contains(c.Values, v) {
			return false
		}
	}
	return true
}
