// Package config loads rttbench settings from an optional config file and
// command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// binding ties one config-file key to the field it populates.
type binding struct {
	key     string
	aliases []string
	apply   func(raw interface{}) error
}

// bind returns a binding that parses the raw value with parse and stores the
// result in dst.
func bind[T any](dst *T, parse func(interface{}) (T, error), key string, aliases ...string) binding {
	return binding{key: key, aliases: aliases, apply: func(raw interface{}) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

// section returns a binding for a nested table whose keys are applied by apply.
func section(key string, apply func(map[string]interface{}) error) binding {
	return binding{key: key, apply: func(raw interface{}) error {
		if raw == nil {
			return nil
		}
		table, err := toStringKeyMap(raw)
		if err != nil {
			return err
		}
		return apply(table)
	}}
}

// applyBindings applies every binding whose key is present in settings. Errors
// are prefixed with the canonical key.
func applyBindings(settings map[string]interface{}, bindings ...binding) error {
	for _, b := range bindings {
		raw, ok := lookupSetting(settings, append([]string{b.key}, b.aliases...)...)
		if !ok {
			continue
		}
		if err := b.apply(raw); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}
	return nil
}

// lookupSetting finds the first candidate present in settings. Each candidate
// is also tried lowercased and in its dashed and joined spellings, so
// "poll_interval" matches "poll-interval" and "pollinterval".
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		key = strings.ToLower(key)
		for _, spelling := range []string{
			key,
			strings.ReplaceAll(key, "_", "-"),
			strings.ReplaceAll(key, "_", ""),
		} {
			if val, ok := settings[spelling]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// number widens any Go numeric type to float64.
func number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// text returns the trimmed string form of value and whether it is a string.
func text(value interface{}) (string, bool) {
	s, ok := value.(string)
	return strings.TrimSpace(s), ok
}

func asInt(value interface{}) (int, error) {
	if value == nil {
		return 0, nil
	}
	if n, ok := number(value); ok {
		return int(n), nil
	}
	if s, ok := text(value); ok {
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	return 0, fmt.Errorf("expected an integer, got %T", value)
}

func asFloat64(value interface{}) (float64, error) {
	if value == nil {
		return 0, nil
	}
	if n, ok := number(value); ok {
		return n, nil
	}
	if s, ok := text(value); ok {
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", value)
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	}
	if s, ok := text(value); ok {
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	}
	return false, fmt.Errorf("expected a boolean, got %T", value)
}

// asDuration accepts Go duration strings. Bare numbers are whole seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	}
	if n, ok := number(value); ok {
		return time.Duration(int64(n)) * time.Second, nil
	}
	if s, ok := text(value); ok {
		if s == "" {
			return 0, nil
		}
		return time.ParseDuration(s)
	}
	return 0, fmt.Errorf("expected a duration, got %T", value)
}

func asArrivalModel(value interface{}) (ArrivalModel, error) {
	s, err := asString(value)
	return ArrivalModel(s), err
}

// asStringSlice accepts a list or a single string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, _ := asString(item)
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", value)
}

// toStringKeyMap normalizes a decoded table to lowercase string keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			out[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			s, _ := asString(key)
			out[strings.ToLower(strings.TrimSpace(s))] = val
		}
	default:
		return nil, fmt.Errorf("expected a table, got %T", value)
	}
	return out, nil
}
