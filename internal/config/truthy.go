package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Truthy decodes a YAML bool, an int (nonzero is true), or one of the
// source's truthy strings (y, Y, t, T, yes, true, 1, ...).
type Truthy bool

// UnmarshalYAML accepts bool, int, or string scalars.
func (t *Truthy) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*t = Truthy(truthyValue(raw))
	return nil
}

func truthyValue(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		switch strings.TrimSpace(v) {
		case "y", "Y", "t", "T", "yes", "Yes", "YES", "true", "True", "TRUE", "1":
			return true
		default:
			return false
		}
	default:
		return false
	}
}
