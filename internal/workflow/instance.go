package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/metrics"
)

const tracerName = "github.com/JakeFAU/wiki-mirror/internal/workflow"

// Steps is the capability a workflow function uses to run durable steps.
type Steps interface {
	InstanceID() string
	// Run executes fn as the step called name unless it already completed,
	// returning the recorded (or freshly produced) encoded result.
	Run(ctx context.Context, name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// Engine creates workflow instances sharing one step log and retry policy.
type Engine struct {
	log    StepLog
	policy RetryPolicy
	logger *zap.Logger
}

// NewEngine builds an Engine. A nil policy disables retries.
func NewEngine(log StepLog, policy RetryPolicy, logger *zap.Logger) *Engine {
	if policy == nil {
		policy = NoRetry{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{log: log, policy: policy, logger: logger}
}

// Instance returns the step runner for one workflow instance.
func (e *Engine) Instance(workflow, instanceID string) *Instance {
	return &Instance{
		workflow: workflow,
		id:       instanceID,
		log:      e.log,
		policy:   e.policy,
		logger:   e.logger.With(zap.String("workflow", workflow), zap.String("instance_id", instanceID)),
		seen:     make(map[string]struct{}),
		sleep:    sleepContext,
	}
}

// Instance runs the steps of one workflow instance in order.
type Instance struct {
	workflow string
	id       string
	log      StepLog
	policy   RetryPolicy
	logger   *zap.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	sleep func(ctx context.Context, d time.Duration) error
}

// InstanceID implements Steps.
func (i *Instance) InstanceID() string {
	return i.id
}

// Run implements Steps.
func (i *Instance) Run(ctx context.Context, name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	i.mu.Lock()
	_, dup := i.seen[name]
	i.seen[name] = struct{}{}
	i.mu.Unlock()
	if dup {
		return nil, fmt.Errorf("step %q declared twice in instance %s", name, i.id)
	}

	recorded, ok, err := i.log.Load(ctx, i.id, name)
	if err != nil {
		return nil, fmt.Errorf("load step %q: %w", name, err)
	}
	if ok {
		i.logger.Debug("step replayed from log", zap.String("step", name))
		return recorded, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, i.workflow+"/"+name, trace.WithAttributes(
		attribute.String("workflow", i.workflow),
		attribute.String("instance_id", i.id),
		attribute.String("step", name),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, runErr := fn(ctx)
		metrics.ObserveStep(i.workflow, runErr, time.Since(start))
		if runErr == nil {
			if err := i.log.Save(ctx, i.id, name, result); err != nil {
				return nil, fmt.Errorf("record step %q: %w", name, err)
			}
			i.logger.Debug("step completed", zap.String("step", name), zap.Int("attempt", attempt))
			span.SetAttributes(attribute.Int("attempts", attempt))
			return result, nil
		}
		if !i.policy.ShouldRetry(runErr, attempt) {
			i.logger.Error("step failed", zap.String("step", name), zap.Int("attempt", attempt), zap.Error(runErr))
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "step failed")
			return nil, fmt.Errorf("step %q: %w", name, runErr)
		}
		wait := i.policy.Backoff(attempt)
		i.logger.Warn("step failed; retrying",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(runErr),
		)
		metrics.ObserveStepRetry(i.workflow)
		if err := i.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
	}
}

// Do runs fn as a durable step and decodes its result.
func Do[T any](ctx context.Context, steps Steps, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := steps.Run(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, Permanent(fmt.Errorf("encode result: %w", err))
		}
		return data, nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode step %q result: %w", name, err)
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
