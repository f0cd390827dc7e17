// Package geoip resolves dotted-quad IPv4 addresses against a
// memory-mapped interval database (spec §4.1, §6 "Geo DB file format"),
// caching results in a bounded LRU. It is a process-wide resource: one
// Resolver is created at startup and shared by the worker goroutine only.
package geoip

import (
	"encoding/binary"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
)

// FieldCount is the fixed width of a resolved tuple: country, region,
// city, spare, isp.
const FieldCount = 5

// cacheSize is the GeoDB LRU capacity from spec §4.1 / §8 invariant 5.
const cacheSize = 32768

var ipv6Fields = [FieldCount]string{"IPv6", "IPv6", "IPv6", "IPv6", "IPv6"}

// Resolver resolves IPv4 dotted-quad strings to [5]string tuples.
type Resolver struct {
	data   []byte
	mapped bool
	cache  *lru.Cache[string, [FieldCount]string]

	length     uint32 // header value: size in bytes of the index block
	flagTable  []byte // 256*4 bytes, LE uint32 per entry
	intervals  []byte // interval table, 8-byte records
	payload    []byte // tab-separated field tuples
}

// Open mmaps the database file at path. A missing or malformed file is a
// fatal, process-wide condition per spec §4.1 ("missing DB file at init
// -> fatal"); callers should log.Fatal on the returned error.
func Open(path string) (*Resolver, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open geodb %s", path)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, errors.Wrapf(err, "stat geodb %s", path)
	}
	size := int(stat.Size)
	if size <= 0 {
		return nil, errors.Errorf("geodb %s is empty", path)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap geodb %s", path)
	}

	r, err := newFromBytes(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	r.mapped = true
	return r, nil
}

// NewFromBytes builds a Resolver over an in-memory byte slice, used by
// tests that don't want to write a fixture file to disk.
func NewFromBytes(data []byte) (*Resolver, error) {
	return newFromBytes(data)
}

func newFromBytes(data []byte) (*Resolver, error) {
	if len(data) < 4 {
		return nil, errors.New("geodb too small for header")
	}
	length := binary.BigEndian.Uint32(data[0:4])
	if length == 0 || length >= 16_777_216 {
		return nil, errors.Errorf("geodb header length out of range: %d", length)
	}
	if len(data) < 4+int(length) {
		return nil, errors.Errorf("geodb truncated: need %d index bytes, have %d", length, len(data)-4)
	}
	if length < 1024 {
		return nil, errors.Errorf("geodb index shorter than the prefix table: %d", length)
	}

	cache, err := lru.New[string, [FieldCount]string](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "allocate geodb lru")
	}

	index := data[4 : 4+length]
	r := &Resolver{
		data:      data,
		cache:     cache,
		length:    length,
		flagTable: index[:1024],
		intervals: index[1024:],
		payload:   data[4+length:],
	}
	return r, nil
}

// Close releases the mmap, if any.
func (r *Resolver) Close() error {
	if r.mapped {
		return unix.Munmap(r.data)
	}
	return nil
}

// Resolve returns the (country, region, city, spare, isp) tuple for ip,
// or false if ip is not a valid IPv4 address, is an unresolvable
// address, or the index bookkeeping is malformed for this lookup. IPv6
// addresses (detected by the presence of ':') resolve to a constant
// tuple rather than a lookup failure.
func (r *Resolver) Resolve(ip string) ([FieldCount]string, bool) {
	if strings.Contains(ip, ":") {
		metrics.GeoDBLookups.WithLabelValues("ipv6").Inc()
		return ipv6Fields, true
	}

	if v, ok := r.cache.Get(ip); ok {
		metrics.GeoDBLookups.WithLabelValues("hit").Inc()
		return v, true
	}

	octets, ok := parseIPv4(ip)
	if !ok {
		logging.Log.WithField("ip", ip).Warn("geodb: invalid dotted-quad")
		metrics.GeoDBLookups.WithLabelValues("invalid").Inc()
		return [FieldCount]string{}, false
	}

	fields, ok := r.lookup(octets)
	if !ok {
		metrics.GeoDBLookups.WithLabelValues("miss").Inc()
		return [FieldCount]string{}, false
	}

	r.cache.Add(ip, fields)
	metrics.GeoDBLookups.WithLabelValues("resolved").Inc()
	return fields, true
}

func parseIPv4(ip string) ([4]byte, bool) {
	var out [4]byte
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, false
		}
		out[i] = byte(n)
	}
	return out, true
}

func (r *Resolver) lookup(octets [4]byte) ([FieldCount]string, bool) {
	ipLong := binary.BigEndian.Uint32(octets[:])

	prefixStart := binary.LittleEndian.Uint32(r.flagTable[int(octets[0])*4 : int(octets[0])*4+4])

	lo := prefixStart*8 + 1024
	if r.length < 1028 {
		return [FieldCount]string{}, false
	}
	hi := r.length - 1028

	var offset uint32
	var length byte
	found := false
	for pos := lo; pos < hi; pos += 8 {
		if pos+8 > r.length {
			break
		}
		rec := r.intervals[pos-1024 : pos-1024+8]
		upper := binary.BigEndian.Uint32(rec[0:4])
		if upper >= ipLong {
			offset = binary.LittleEndian.Uint32(rec[4:8]) & 0x00FFFFFF
			length = rec[7]
			found = true
			break
		}
	}
	if !found {
		return [FieldCount]string{}, false
	}
	if int(length) > 255 {
		logging.Log.WithField("length", length).Warn("geodb: payload length too large")
		return [FieldCount]string{}, false
	}

	// The reference resolver computes the payload position as
	// length + offset - 1024 relative to the start of the file (header
	// included); r.payload begins at file offset 4+length, so relative
	// to r.payload that is offset - 1028.
	relPos := int(offset) - 1028
	if relPos < 0 || relPos+int(length) > len(r.payload) {
		logging.Log.Warn("geodb: payload record out of bounds")
		return [FieldCount]string{}, false
	}

	raw := r.payload[relPos : relPos+int(length)]
	var fields [FieldCount]string
	parts := strings.Split(string(raw), "\t")
	for i := 0; i < len(parts) && i < FieldCount; i++ {
		fields[i] = parts[i]
	}
	return fields, true
}
