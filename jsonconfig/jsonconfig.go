// Package jsonconfig provides a small self-validating configuration
// object, adapted from the teacher's pkg/jsonconfig: every accessor
// records which keys it consulted, and a single terminal Validate call
// reports both missing/mistyped required keys and any keys nobody asked
// for, all at once.
package jsonconfig

import (
	"fmt"
	"strings"
)

// Obj is a configuration map, e.g. {"type": "leveldb", "file": "db"}.
type Obj map[string]any

func (jc Obj) RequiredString(key string) string { return jc.str(key, nil) }
func (jc Obj) OptionalString(key, def string) string {
	return jc.str(key, &def)
}

func (jc Obj) str(key string, def *string) string {
	jc.noteKnownKey(key)
	v, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(fmt.Errorf("jsonconfig: missing required key %q (string)", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		jc.appendError(fmt.Errorf("jsonconfig: key %q must be a string, got %T", key, v))
		return ""
	}
	return s
}

func (jc Obj) RequiredBool(key string) bool       { return jc.boolVal(key, nil) }
func (jc Obj) OptionalBool(key string, def bool) bool { return jc.boolVal(key, &def) }

func (jc Obj) boolVal(key string, def *bool) bool {
	jc.noteKnownKey(key)
	v, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(fmt.Errorf("jsonconfig: missing required key %q (bool)", key))
		return false
	}
	b, ok := v.(bool)
	if !ok {
		jc.appendError(fmt.Errorf("jsonconfig: key %q must be a bool, got %T", key, v))
		return false
	}
	return b
}

func (jc Obj) RequiredInt(key string) int          { return jc.intVal(key, nil) }
func (jc Obj) OptionalInt(key string, def int) int { return jc.intVal(key, &def) }

func (jc Obj) intVal(key string, def *int) int {
	jc.noteKnownKey(key)
	v, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(fmt.Errorf("jsonconfig: missing required key %q (int)", key))
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		jc.appendError(fmt.Errorf("jsonconfig: key %q must be a number, got %T", key, v))
		return 0
	}
}

// OptionalAny returns the raw value for key, or def if absent. Used for
// values Validate should not type-check itself, e.g. a *sql.DB handle
// passed in by the caller.
func (jc Obj) OptionalAny(key string, def any) any {
	jc.noteKnownKey(key)
	v, ok := jc[key]
	if !ok {
		return def
	}
	return v
}

func (jc Obj) noteKnownKey(key string) {
	known, _ := jc["_knownkeys"].(map[string]bool)
	if known == nil {
		known = make(map[string]bool)
		jc["_knownkeys"] = known
	}
	known[key] = true
}

func (jc Obj) appendError(err error) {
	errs, _ := jc["_errors"].([]error)
	jc["_errors"] = append(errs, err)
}

func (jc Obj) unknownKeys() {
	known, _ := jc["_knownkeys"].(map[string]bool)
	for k := range jc {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		jc.appendError(fmt.Errorf("jsonconfig: unknown key %q", k))
	}
}

// Validate reports every missing/mistyped required key and every
// never-consulted key accumulated since the Obj was created.
func (jc Obj) Validate() error {
	jc.unknownKeys()
	errs, _ := jc["_errors"].([]error)
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("jsonconfig: multiple errors: %s", strings.Join(msgs, "; "))
	}
}
