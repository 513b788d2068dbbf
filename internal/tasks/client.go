package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"cryptopulse/internal/core"
)

// Client enqueues tasks from outside the worker, used by the manual briefing
// trigger endpoint and the CLI.
type Client struct {
	c         *asynq.Client
	inspector *asynq.Inspector
}

// NewClient connects a task client to the broker.
func NewClient(redisURL string) (*Client, error) {
	if redisURL == "" {
		return nil, errors.New("task client requires a redis broker, set REDIS_URL")
	}
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Client{
		c:         asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
	}, nil
}

// EnqueueBriefing queues a briefing generation run and returns the task ID
// immediately; execution happens on a worker.
func (c *Client) EnqueueBriefing(ctx context.Context, bt core.BriefingType, force, isSmoke bool) (string, error) {
	spec, ok := SpecFor(BriefingTaskName(bt))
	if !ok {
		return "", fmt.Errorf("unknown briefing type %q", bt)
	}

	payload, err := json.Marshal(briefingPayload{Force: force, IsSmoke: isSmoke})
	if err != nil {
		return "", fmt.Errorf("failed to encode briefing payload: %w", err)
	}

	info, err := c.c.EnqueueContext(ctx, asynq.NewTask(spec.Name, payload),
		asynq.MaxRetry(spec.MaxRetry),
		asynq.Timeout(spec.Timeout))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", spec.Name, err)
	}
	return info.ID, nil
}

// QueueSnapshot is a point-in-time view of the default queue for the status
// endpoint.
type QueueSnapshot struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Scheduled int `json:"scheduled"`
	Retry     int `json:"retry"`
}

// Queues reports the default queue depth.
func (c *Client) Queues() (*QueueSnapshot, error) {
	info, err := c.inspector.GetQueueInfo("default")
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return &QueueSnapshot{
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
	}, nil
}

// Close releases both broker connections.
func (c *Client) Close() error {
	cerr := c.c.Close()
	ierr := c.inspector.Close()
	if cerr != nil {
		return cerr
	}
	return ierr
}
