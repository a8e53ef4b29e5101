package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// preEventTrimKeys are the keys a preEventTrim block may carry. Node.Decode
// does not inherit the parent decoder's KnownFields, so they are checked here.
var preEventTrimKeys = map[string]bool{
	"eventDate":           true,
	"windowDaysMin":       true,
	"windowDaysMax":       true,
	"trimPctOfPosition":   true,
	"holdThroughEventPct": true,
}

// UnmarshalYAML fills the window defaults (D-10..D-3, trim 40%, hold 60%)
// for any key the portfolio file leaves out.
func (p *PreEventTrim) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i]
			if !preEventTrimKeys[key.Value] {
				return fmt.Errorf("line %d: field %s not found in preEventTrim", key.Line, key.Value)
			}
		}
	}

	type raw PreEventTrim
	r := raw{
		WindowDaysMin:       3,
		WindowDaysMax:       10,
		TrimPctOfPosition:   0.4,
		HoldThroughEventPct: 0.6,
	}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = PreEventTrim(r)
	return nil
}
