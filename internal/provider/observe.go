package provider

import (
	"context"
	"time"
)

// Observer receives the outcome of every completion.
type Observer func(operation string, took time.Duration, err error)

type observed struct {
	inner    Provider
	observer Observer
}

// WithObserver reports each call of p to fn. A nil p stays nil.
func WithObserver(p Provider, fn Observer) Provider {
	if p == nil || fn == nil {
		return p
	}
	return observed{inner: p, observer: fn}
}

func (o observed) Name() string { return o.inner.Name() }

func (o observed) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := o.inner.Complete(ctx, req)
	o.observer(req.Operation, time.Since(start), err)
	return out, err
}
