package pipeline

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"logtunnel/internal/aggregate"
	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
	"logtunnel/internal/record"
	"logtunnel/internal/transform"
	"logtunnel/internal/tunnel"
)

// tickInterval is the worker's re-arm period, "0 or 1 ms" per spec
// §4.5, implemented as a 1ms ticker.
const tickInterval = time.Millisecond

// Worker runs the cooperative, single-threaded event loop from spec
// §4.5: on every tick it drains the SPSC queue while the tunnel can
// accept sends, tokenizing and transforming each line, then either
// inserting into the aggregator or serializing straight to the tunnel.
type Worker struct {
	Queue       *Queue
	Transformer *transform.Transformer
	Tunnel      *tunnel.Tunnel
	Aggregator  *aggregate.Aggregator // nil in plain (non-aggregation) mode

	done atomic.Bool
}

// MarkDone signals that the producer has finished; the worker drains
// what remains and then stops. Only the driver goroutine calls this.
func (w *Worker) MarkDone() {
	w.done.Store(true)
}

// Run blocks until shutdown: producer done, queue and aggregator
// drained, and the tunnel reports SendComplete. joinTimeout bounds how
// long it waits on a stuck tunnel before giving up (spec §5's ~15s
// hard join timeout in file mode); zero means wait indefinitely.
func (w *Worker) Run(joinTimeout time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var doneAt time.Time
	for range ticker.C {
		if w.done.Load() && w.Queue.Empty() {
			if doneAt.IsZero() {
				doneAt = time.Now()
				if w.Aggregator != nil {
					w.Aggregator.Clear()
				}
			}
			if w.Tunnel.SendComplete() {
				return
			}
			if joinTimeout > 0 && time.Since(doneAt) > joinTimeout {
				logging.Log.Warn("worker: shutdown timed out waiting for tunnel drain")
				return
			}
			continue
		}
		w.drain()
	}
}

func (w *Worker) drain() {
	for w.Tunnel.CanSend() {
		line, ok := w.Queue.Pop()
		if !ok {
			break
		}

		tokens, ok := transform.Tokenize(line)
		if !ok {
			logging.Log.WithField("line", line).Warn("bad log")
			metrics.RecordsDropped.Inc()
			continue
		}

		rec, err := w.Transformer.Transform(tokens)
		if err != nil {
			logging.Log.WithFields(map[string]interface{}{"line": line, "error": err}).Warn("json error")
			metrics.RecordsDropped.Inc()
			continue
		}

		if w.Aggregator != nil {
			w.Aggregator.Insert(rec)
		} else {
			w.send(rec)
		}
	}
	metrics.QueueDepth.Set(float64(w.Queue.Len()))
}

// send serializes r and hands it to the tunnel, dropping it (counted)
// if the send queue has no room. r's field set is not touched here: a
// bucketed record already carries "path" (aggregate.go's Insert stamps
// it once per bucket), and a plain record must carry nothing beyond
// {type} ∪ STORE-attrs ∪ ADD-attrs, per spec §8's round-trip property.
func (w *Worker) send(r *record.Record) {
	buf, err := json.Marshal(r)
	if err != nil {
		logging.Log.WithField("error", err).Error("worker: record marshal failed")
		return
	}

	metrics.RecordsEmitted.Inc()
	if !w.Tunnel.Send(buf) {
		metrics.RecordsDropped.Inc()
		logging.Log.Warn("worker: tunnel dropped record, send queue full or disconnected")
	}
}
