package transform

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"logtunnel/internal/logging"
	"logtunnel/internal/record"
	"logtunnel/internal/schema"
)

// applyHandler dispatches an attribute's (name, value) pair to the kind
// registered in schema.Kind, mutating r in place. It returns a non-nil
// error only for the handlers spec §4.2 calls out as hard errors:
// int, int64, double, time_local, time_date, and for an unregistered
// kind. Every other kind, request included, degrades softly (a default
// value, or simply not enriching) and never fails the whole record.
func (t *Transformer) applyHandler(r *record.Record, name string, kind schema.Kind, value string) error {
	switch kind {
	case schema.KindString:
		r.Set(name, record.String(value))
		return nil

	case schema.KindInt:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("int parse error")
			return errors.Wrapf(err, "int field %q", name)
		}
		r.Set(name, record.Int32(int32(n)))
		return nil

	case schema.KindInt64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("int64 parse error")
			return errors.Wrapf(err, "int64 field %q", name)
		}
		r.Set(name, record.Int64(n))
		return nil

	case schema.KindInt64Sum:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("int64_sum parse error, defaulting to 0")
			n = 0
		}
		r.AddInt64(name, n)
		return nil

	case schema.KindDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("double parse error")
			return errors.Wrapf(err, "double field %q", name)
		}
		r.Set(name, record.Double(f))
		return nil

	case schema.KindIP:
		r.Set(name, record.String(value))
		if t.Geo == nil {
			return nil
		}
		fields, ok := t.Geo.Resolve(value)
		if !ok {
			return nil
		}
		r.Set(name+"@country", record.String(fields[0]))
		r.Set(name+"@province", record.String(fields[1]))
		r.Set(name+"@city", record.String(fields[2]))
		r.Set(name+"@isp", record.String(fields[4]))
		return nil

	case schema.KindTimeLocal:
		ts, err := t.dayCache.parseTimeLocal(value)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("time_local parse error")
			return errors.Wrapf(err, "time_local field %q", name)
		}
		r.Set(name, record.Int64(ts))
		return nil

	case schema.KindTimeDate:
		ts, err := parseTimeDate(value)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"field": name, "value": value}).Warn("time_date parse error")
			return errors.Wrapf(err, "time_date field %q", name)
		}
		r.Set(name, record.Int64(ts))
		return nil

	case schema.KindRequest:
		method, scheme, domain := parseRequest(value)
		r.Set("method", record.String(method))
		r.Set("scheme", record.String(scheme))
		r.Set("domain", record.String(domain))
		return nil

	case schema.KindStatus:
		n, err := strconv.Atoi(value)
		if err != nil {
			n = 0
		}
		r.Set(name, record.Int32(int32(n)))
		return nil

	case schema.KindMiscLiveFilter:
		applyMiscLiveFilter(r)
		return nil

	default:
		return errors.Errorf("unregistered handler for attribute %q", name)
	}
}

// applyMiscLiveFilter implements spec §4.2's cross-field fixup: if
// method (case-insensitive) is not "stop", body_bytes_sent is zeroed.
// It is a no-op if a request-kind attribute hasn't populated "method"
// yet, which is a schema-ordering mistake rather than a hard error.
func applyMiscLiveFilter(r *record.Record) {
	v, ok := r.Get("method")
	if !ok || v.Kind != record.KindString {
		return
	}
	if strings.EqualFold(v.Str, "stop") {
		return
	}
	r.Set("body_bytes_sent", record.Int64(0))
}
