// Package worker runs webhook events on a bounded goroutine pool, one event
// per conversation key at a time and round-robin across keys.
package worker

import (
	"context"

	"github.com/EXCurryBar/mybot/internal/models"
)

// Job is one inbound event. Key is the conversation key; jobs sharing a key
// run one after another in submission order.
type Job struct {
	Key       string
	RequestID string
	Event     models.Event

	stop bool
}

// Handler processes a job. Its error is only logged.
type Handler func(ctx context.Context, job Job) error
