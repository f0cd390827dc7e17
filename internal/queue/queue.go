// Package queue wraps the key/value cache job discovery protocol from
// spec §4.5's Queue producer mode: poll for a stop flag, LPOP a job off
// a named list, and resolve the job's schema slot to schema source
// text. It is deliberately thin — schema parsing itself belongs to
// internal/schema.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"logtunnel/internal/logging"
)

// stopKey and configKey are the fixed cache keys the reference driver
// uses; they are not configurable per spec §6.
const (
	stopKey   = "Log:Stop"
	configKey = "Log:Config"
)

// pollInterval is how long Next sleeps between empty polls or while
// Log:Stop is set, per spec §4.5.
const pollInterval = 2 * time.Second

// Job is one popped queue element: an input file path and the config
// slot naming its schema.
type Job struct {
	Path string
	Slot string
}

// Client is a thin wrapper over a single redis.Client used for job
// discovery.
type Client struct {
	rdb   *redis.Client
	queue string
}

// New builds a Client dialing addr (host:port) and polling queue for
// jobs.
func New(addr, queue string) *Client {
	return &Client{
		rdb:   redis.NewClient(&redis.Options{Addr: addr}),
		queue: queue,
	}
}

// Close releases the underlying redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Next blocks until a job is ready, resolving its schema slot along
// the way, or ctx is cancelled. It implements the full poll-and-retry
// loop from spec §4.5's Queue mode: sleep on Log:Stop, sleep on an
// empty pop, log and sleep on a failed stop-flag check or a failed or
// malformed pop, skip (without sleeping) an unresolvable schema slot.
// It returns an error only once ctx is cancelled.
func (c *Client) Next(ctx context.Context) (path, schemaSource string, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		stop, serr := c.stopRequested(ctx)
		if serr != nil {
			logging.Log.WithField("error", serr).Warn("queue: check stop flag failed")
			if !sleep(ctx, pollInterval) {
				return "", "", ctx.Err()
			}
			continue
		}
		if stop {
			if !sleep(ctx, pollInterval) {
				return "", "", ctx.Err()
			}
			continue
		}

		job, ok, perr := c.popJob(ctx)
		if perr != nil {
			logging.Log.WithField("error", perr).Warn("queue: pop failed or malformed job, skipping")
			if !sleep(ctx, pollInterval) {
				return "", "", ctx.Err()
			}
			continue
		}
		if !ok {
			if !sleep(ctx, pollInterval) {
				return "", "", ctx.Err()
			}
			continue
		}

		logging.Log.WithField("path", job.Path).Info("queue: input file")

		src, ferr := c.fetchSchema(ctx, job.Slot)
		if ferr != nil {
			logging.Log.WithFields(map[string]interface{}{"slot": job.Slot, "error": ferr}).Warn("queue: schema fetch failed, skipping job")
			continue
		}

		return job.Path, src, nil
	}
}

func (c *Client) stopRequested(ctx context.Context) (bool, error) {
	_, err := c.rdb.Get(ctx, stopKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) popJob(ctx context.Context) (*Job, bool, error) {
	val, err := c.rdb.LPop(ctx, c.queue).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	job, err := parseJobPayload(val)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// parseJobPayload decodes a popped queue entry: a two-element JSON
// array `[path, slot]`.
func parseJobPayload(val string) (*Job, error) {
	var arr []string
	if err := json.Unmarshal([]byte(val), &arr); err != nil || len(arr) != 2 {
		return nil, errors.Errorf("malformed queue entry: %q", val)
	}
	return &Job{Path: arr[0], Slot: arr[1]}, nil
}

func (c *Client) fetchSchema(ctx context.Context, slot string) (string, error) {
	val, err := c.rdb.HGet(ctx, configKey, slot).Result()
	if err == redis.Nil {
		return "", errors.Errorf("no config for slot %q", slot)
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
