package pipeline

import (
	"time"

	"logtunnel/internal/aggregate"
	"logtunnel/internal/geoip"
	"logtunnel/internal/logging"
	"logtunnel/internal/schema"
	"logtunnel/internal/transform"
	"logtunnel/internal/tunnel"
)

// joinTimeout is the worker's hard shutdown timeout in file mode, per
// spec §5 ("~15s in file mode... to prevent shutdown stalls").
const joinTimeout = 15 * time.Second

// Cycle runs one producer/worker pass over path against schema s,
// enriching ip-kind fields via geo (nil if the schema has none) and
// forwarding output through tun. It blocks until the producer reaches
// EOF and the worker has fully drained, matching the reference
// driver's producer-thread-join-then-worker-thread-join sequencing
// (translated here into two goroutines joined by a channel).
func Cycle(path string, s *schema.Schema, geo *geoip.Resolver, tun *tunnel.Tunnel) (uint64, error) {
	q := NewQueue()
	tr := transform.New(s, geo)

	w := &Worker{Queue: q, Transformer: tr, Tunnel: tun}
	if s.Aggregation != nil {
		agg, err := aggregate.New(s.Aggregation, s.Attributes, path, w.send)
		if err != nil {
			return 0, err
		}
		w.Aggregator = agg
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(joinTimeout)
	}()

	lines, err := RunFileProducer(path, q)
	w.MarkDone()
	<-workerDone

	logging.Log.WithFields(map[string]interface{}{
		"path":  path,
		"lines": lines,
	}).Info("cycle complete")

	return lines, err
}
