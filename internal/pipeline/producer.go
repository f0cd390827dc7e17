package pipeline

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
)

// progressEvery matches spec §4.5's "count every pushed line for
// progress logging (every 100k)".
const progressEvery = 100_000

// pushRetryDelay is how long the producer sleeps before retrying a
// push into a full queue.
const pushRetryDelay = time.Millisecond

// scannerBufSize raises bufio.Scanner's 64KiB default line limit to
// 1MiB; a longer line stops the scan with bufio.ErrTooLong, which
// produce returns as its error.
const scannerBufSize = 1 << 20

// RunFileProducer opens path (transparently gzip-decompressing if it
// ends in ".gz") and pushes every line into q, sleeping and retrying
// when q is full. It returns the total line count once the source is
// exhausted.
func RunFileProducer(path string, q *Queue) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open input %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, errors.Wrapf(err, "open gzip input %s", path)
		}
		defer gz.Close()
		r = gz
	}

	return produce(r, q, path)
}

func produce(r io.Reader, q *Queue, path string) (uint64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufSize)

	var lines uint64
	for scanner.Scan() {
		line := scanner.Text()
		lines++
		metrics.LinesRead.Inc()
		if lines%progressEvery == 0 {
			logging.Log.WithFields(map[string]interface{}{"path": path, "lines": lines}).Info("input progress")
		}

		for !q.Push(line) {
			time.Sleep(pushRetryDelay)
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, errors.Wrapf(err, "read input %s", path)
	}
	return lines, nil
}
