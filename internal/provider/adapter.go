package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

// taskAdapter implements Adapter over a Client for the common poll-style
// providers. Per-tool behavior is injected as data: model name, cost and
// validation functions, input builder.
type taskAdapter struct {
	key        string
	kind       models.MediaKind
	model      string
	client     *Client
	deadline   time.Duration
	cost       func(Params) decimal.Decimal
	validate   func(Params) error
	buildInput func(Params) map[string]any
}

func (a *taskAdapter) Key() string                   { return a.key }
func (a *taskAdapter) Kind() models.MediaKind        { return a.kind }
func (a *taskAdapter) PollDeadline() time.Duration   { return a.deadline }
func (a *taskAdapter) Cost(p Params) decimal.Decimal { return a.cost(p) }
func (a *taskAdapter) Validate(p Params) error       { return a.validate(p) }

func (a *taskAdapter) Create(ctx context.Context, p Params) (string, error) {
	return a.client.CreateTask(ctx, a.model, a.buildInput(p))
}

func (a *taskAdapter) Poll(ctx context.Context, taskID string) (Status, error) {
	return a.client.TaskStatus(ctx, taskID)
}

func (a *taskAdapter) Fetch(ctx context.Context, artifactURL string) ([]byte, error) {
	return a.client.Download(ctx, artifactURL)
}

// callbackAdapter serves push-style providers: the provider POSTs the result
// to our webhook endpoint, which lands in the callback store keyed by task id.
// Poll drains the store first and only falls back to the remote status call.
type callbackAdapter struct {
	taskAdapter
	callbacks   *CallbackStore
	callbackURL string
}

func (a *callbackAdapter) Create(ctx context.Context, p Params) (string, error) {
	input := a.buildInput(p)
	input["callBackUrl"] = a.callbackURL
	return a.client.CreateTask(ctx, a.model, input)
}

func (a *callbackAdapter) Poll(ctx context.Context, taskID string) (Status, error) {
	if payload, ok := a.callbacks.Take(taskID); ok {
		return parseCallback(payload)
	}
	return a.client.TaskStatus(ctx, taskID)
}
