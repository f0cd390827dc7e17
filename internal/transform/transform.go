// Package transform turns a tokenized log line into a record.Record per
// the schema's Attribute list (spec §4.2). It is the one place that
// touches the GeoDB resolver on behalf of ip-kind attributes.
package transform

import (
	"github.com/pkg/errors"

	"logtunnel/internal/geoip"
	"logtunnel/internal/record"
	"logtunnel/internal/schema"
)

// Transformer is the explicit-ownership Context (per REDESIGN FLAGS)
// replacing the original's implicit singleton resolver: one Transformer
// per schema, holding the resources its handlers need and the
// single-entry time_local day cache the worker goroutine mutates.
type Transformer struct {
	Schema *schema.Schema
	Geo    *geoip.Resolver

	dayCache dayCache
}

// New builds a Transformer for s. geo may be nil if s has no ip-kind
// attribute.
func New(s *schema.Schema, geo *geoip.Resolver) *Transformer {
	return &Transformer{Schema: s, Geo: geo}
}

// Transform applies t.Schema to tokens, producing a Record or nil if the
// line is rejected: wrong field count, an unregistered handler kind, or
// a hard parse error on a STORE attribute (spec §4.2).
func (t *Transformer) Transform(tokens []string) (*record.Record, error) {
	s := t.Schema
	if s.FieldNumber > 0 && len(tokens) != s.FieldNumber {
		return nil, errors.Errorf("expected %d fields, got %d", s.FieldNumber, len(tokens))
	}

	r := record.New()
	r.Set("type", record.String(s.Name))

	cursor := 0
	for _, attr := range s.Attributes {
		switch attr.Action {
		case schema.ActionIgnore:
			if cursor < len(tokens) {
				cursor++
			}

		case schema.ActionStore:
			isTimeSpan := s.TimeIndex > 0 && s.TimeSpan > 0 && cursor == s.TimeIndex-1
			var value string
			if isTimeSpan {
				if cursor+1 >= len(tokens) {
					return nil, errors.Errorf("time-span attribute %q needs two tokens at position %d", attr.Name, cursor)
				}
				value = tokens[cursor] + " " + tokens[cursor+1]
				cursor += 2
			} else {
				if cursor >= len(tokens) {
					return nil, errors.Errorf("attribute %q has no token at position %d", attr.Name, cursor)
				}
				value = tokens[cursor]
				cursor++
			}
			if err := t.applyHandler(r, attr.Name, attr.Kind, value); err != nil {
				return nil, err
			}

		case schema.ActionAdd:
			if err := t.applyHandler(r, attr.Name, attr.Kind, attr.Const); err != nil {
				return nil, err
			}

		default:
			return nil, errors.Errorf("attribute %q has unknown action", attr.Name)
		}
	}

	return r, nil
}
