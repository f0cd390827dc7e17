// Package schema holds the parsed configuration that drives the
// transformer (internal/transform) and the aggregator
// (internal/aggregate): field counts, per-field handler kinds and
// actions, and the optional bucketing aggregation. The grammar itself
// (parser.go) is a supporting collaborator; this file is the structure
// the core actually consumes.
package schema

import "github.com/pkg/errors"

// Kind selects which handler in the transformer's registry processes an
// attribute's value. It is a closed set, matching spec §3's fixed
// registry, dispatched with a switch rather than a map of closures.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindInt64
	KindInt64Sum
	KindDouble
	KindIP
	KindTimeLocal
	KindTimeDate
	KindRequest
	KindStatus
	KindMiscLiveFilter
)

var kindNames = map[string]Kind{
	"string":            KindString,
	"int":                KindInt,
	"int64":              KindInt64,
	"int64_sum":          KindInt64Sum,
	"long long":          KindInt64,
	"double":             KindDouble,
	"ip":                 KindIP,
	"time_local":         KindTimeLocal,
	"time_date":          KindTimeDate,
	"request":            KindRequest,
	"status":             KindStatus,
	"misc_live_filter":   KindMiscLiveFilter,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k && name != "long long" {
			return name
		}
	}
	return "unknown"
}

// ParseKind resolves a kind name to its enum value. It reports whether
// the name is registered, mirroring transform.go's contract that an
// unregistered handler is a hard schema error.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindNames[name]
	return k, ok
}

// Action selects how an attribute consumes tokens.
type Action int

const (
	ActionIgnore Action = iota
	ActionStore
	ActionAdd
)

var actionNames = map[string]Action{
	"IGNORE": ActionIgnore,
	"STORE":  ActionStore,
	"ADD":    ActionAdd,
}

func ParseAction(name string) (Action, bool) {
	a, ok := actionNames[name]
	return a, ok
}

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "IGNORE"
	case ActionStore:
		return "STORE"
	case ActionAdd:
		return "ADD"
	default:
		return "unknown"
	}
}

// Attribute is one field declaration in a Schema's attribute block.
// Const only applies to ActionAdd and carries the constant value emitted
// verbatim (numeric kinds still parse it through their handler).
type Attribute struct {
	Name   string
	Kind   Kind
	Action Action
	Const  string
}

// Aggregation is the optional bucketing clause of a Schema.
type Aggregation struct {
	Keys     []string
	Time     string
	Interval int
	Terms    []string
}

// Schema is the immutable, per-source configuration produced by Parse.
// Once built it is never mutated except by FixAggregationTime, which the
// driver applies exactly once right after parsing.
type Schema struct {
	Name        string
	FieldNumber int
	TimeIndex   int
	TimeSpan    int
	Attributes  []Attribute
	Aggregation *Aggregation
}

// attributeNameSet returns the set of attribute names declared in the
// schema, used to validate Aggregation.Keys/Terms references.
func (s *Schema) attributeNameSet() map[string]bool {
	set := make(map[string]bool, len(s.Attributes))
	for _, a := range s.Attributes {
		set[a.Name] = true
	}
	return set
}

// Validate checks the Aggregation invariant from spec §3: every name in
// Keys and Terms must also be a schema attribute name.
func (s *Schema) Validate() error {
	if s.Aggregation == nil {
		return nil
	}
	names := s.attributeNameSet()
	for _, k := range s.Aggregation.Keys {
		if !names[k] {
			return errors.Errorf("aggregation key %q is not a schema attribute", k)
		}
	}
	for _, t := range s.Aggregation.Terms {
		if !names[t] {
			return errors.Errorf("aggregation term %q is not a schema attribute", t)
		}
	}
	if !names[s.Aggregation.Time] {
		return errors.Errorf("aggregation time field %q is not a schema attribute", s.Aggregation.Time)
	}
	return nil
}

// FixAggregationTime forces the aggregation's time field to STORE, since
// the bucketing key computation (internal/aggregate) requires the
// timestamp to be present in every record regardless of how the schema
// author declared it. This mirrors fix_config in the reference driver.
func (s *Schema) FixAggregationTime() {
	if s.Aggregation == nil {
		return
	}
	for i := range s.Attributes {
		if s.Attributes[i].Name == s.Aggregation.Time {
			s.Attributes[i].Action = ActionStore
		}
	}
}
