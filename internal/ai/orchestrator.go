package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/david/bid-intel/internal/metrics"
	"go.uber.org/zap"
)

// GenerateOptions controls provider ordering for one call.
type GenerateOptions struct {
	Preferred string
	Fallback  bool
}

// Orchestrator holds an explicit, ordered adapter list.
type Orchestrator struct {
	adapters []Adapter
	log      *zap.Logger

	// Applied to requests that leave MaxTokens or Temperature unset.
	maxTokens   int
	temperature *float64
}

func NewOrchestrator(adapters []Adapter, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	kept := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a != nil {
			kept = append(kept, a)
		}
	}
	return &Orchestrator{adapters: kept, log: log.Named("ai")}
}

// Providers lists the names of available adapters in configuration order.
func (o *Orchestrator) Providers() []string {
	var names []string
	for _, a := range o.adapters {
		if a.Available() {
			names = append(names, a.Name())
		}
	}
	return names
}

// Generate tries the preferred provider first, then, with Fallback set, the
// remaining providers in configuration order. The first success wins. When
// every attempt fails the last error is returned.
func (o *Orchestrator) Generate(ctx context.Context, req Request, opts GenerateOptions) (*Response, error) {
	order := o.order(opts)
	if len(order) == 0 {
		if opts.Preferred != "" && !opts.Fallback {
			return nil, fmt.Errorf("%w: preferred provider %q not configured", ErrNoProvidersAvailable, opts.Preferred)
		}
		return nil, ErrNoProvidersAvailable
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = o.maxTokens
	}
	if req.Temperature == nil {
		req.Temperature = o.temperature
	}
	req = req.withDefaults()
	var lastErr error
	for _, a := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := a.Name()
		o.log.Debug("attempting AI request", zap.String("provider", name), zap.String("task", string(req.TaskType)))
		start := time.Now()
		resp, err := a.Generate(ctx, req)
		elapsed := time.Since(start)
		metrics.AIRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		if err == nil && resp != nil && resp.Content == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			metrics.AIRequests.WithLabelValues(name, "error").Inc()
			o.log.Warn("AI request failed",
				zap.String("provider", name),
				zap.Bool("retryable", IsRetryable(err)),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			lastErr = fmt.Errorf("%s: %w", name, err)
			continue
		}

		if resp.Provider == "" {
			resp.Provider = name
		}
		if resp.LatencyMs == 0 {
			resp.LatencyMs = elapsed.Milliseconds()
		}
		metrics.AIRequests.WithLabelValues(name, "ok").Inc()
		if resp.TokensUsed != nil {
			metrics.AITokens.WithLabelValues(name).Add(float64(*resp.TokensUsed))
		}
		o.log.Info("AI request succeeded",
			zap.String("provider", name),
			zap.String("model", resp.Model),
			zap.Int64("latency_ms", resp.LatencyMs))
		return resp, nil
	}
	return nil, lastErr
}

// order puts the preferred adapter first. Without fallback only one adapter
// is tried: the preferred one, or the first configured when none is named.
func (o *Orchestrator) order(opts GenerateOptions) []Adapter {
	var available []Adapter
	for _, a := range o.adapters {
		if a.Available() {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		return nil
	}

	var order []Adapter
	if opts.Preferred != "" {
		for _, a := range available {
			if a.Name() == opts.Preferred {
				order = append(order, a)
				break
			}
		}
	}
	if !opts.Fallback {
		if len(order) == 0 && opts.Preferred == "" {
			order = append(order, available[0])
		}
		return order
	}
	for _, a := range available {
		if a.Name() != opts.Preferred {
			order = append(order, a)
		}
	}
	return order
}
