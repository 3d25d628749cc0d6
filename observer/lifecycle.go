package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/lagoon"
)

// Resolver is the slice of the lifecycle manager the observer wraps.
// *lagoon.Manager satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (lagoon.Handle, error)
}

// Sweeper is the slice of the reaper the observer wraps.
// *lagoon.Reaper satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) error
}

// ObservedResolver wraps a Resolver with OTEL instrumentation.
type ObservedResolver struct {
	inner Resolver
	inst  *Instruments
}

// WrapResolver returns an instrumented resolver emitting a span, a count,
// and a latency sample per resolution.
func WrapResolver(inner Resolver, inst *Instruments) *ObservedResolver {
	return &ObservedResolver{inner: inner, inst: inst}
}

func (o *ObservedResolver) Resolve(ctx context.Context, userID string) (lagoon.Handle, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.resolve",
		trace.WithAttributes(AttrUserID.String(userID)))
	defer span.End()
	start := time.Now()

	handle, err := o.inner.Resolve(ctx, userID)

	durationMs := float64(time.Since(start).Milliseconds())
	o.inst.Resolves.Add(ctx, 1)
	o.inst.ResolveDuration.Record(ctx, durationMs,
		metric.WithAttributes(AttrUserID.String(userID)))

	if err != nil {
		o.inst.ResolveErrs.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return handle, err
	}

	span.SetAttributes(
		AttrSandboxID.String(handle.SandboxID),
		AttrState.String(string(handle.State)),
	)
	return handle, nil
}

// ObservedSweeper wraps a Sweeper with OTEL instrumentation.
type ObservedSweeper struct {
	inner Sweeper
	inst  *Instruments
}

// WrapSweeper returns an instrumented sweeper.
func WrapSweeper(inner Sweeper, inst *Instruments) *ObservedSweeper {
	return &ObservedSweeper{inner: inner, inst: inst}
}

func (o *ObservedSweeper) Sweep(ctx context.Context, retention time.Duration) error {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.sweep")
	defer span.End()
	start := time.Now()

	err := o.inner.Sweep(ctx, retention)

	o.inst.SweepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ObservedProvider wraps a lagoon.Provider, counting each provider call and
// emitting a span around the billable operations (create, start, delete).
type ObservedProvider struct {
	inner lagoon.Provider
	inst  *Instruments
}

var _ lagoon.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider.
func WrapProvider(inner lagoon.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Create(ctx context.Context, spec lagoon.CreateSpec) (lagoon.Instance, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "provider.create",
		trace.WithAttributes(AttrOp.String("create")))
	defer span.End()

	inst, err := o.inner.Create(ctx, spec)
	o.inst.Creates.Add(ctx, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return inst, err
	}
	span.SetAttributes(AttrSandboxID.String(inst.ID))
	return inst, nil
}

func (o *ObservedProvider) Fetch(ctx context.Context, sandboxID string) (lagoon.Instance, error) {
	o.inst.Fetches.Add(ctx, 1)
	return o.inner.Fetch(ctx, sandboxID)
}

func (o *ObservedProvider) Start(ctx context.Context, sandboxID string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "provider.start",
		trace.WithAttributes(AttrOp.String("start"), AttrSandboxID.String(sandboxID)))
	defer span.End()

	err := o.inner.Start(ctx, sandboxID)
	o.inst.Starts.Add(ctx, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *ObservedProvider) Delete(ctx context.Context, sandboxID string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "provider.delete",
		trace.WithAttributes(AttrOp.String("delete"), AttrSandboxID.String(sandboxID)))
	defer span.End()

	err := o.inner.Delete(ctx, sandboxID)
	o.inst.Deletes.Add(ctx, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *ObservedProvider) CreateSession(ctx context.Context, sandboxID, session string) error {
	return o.inner.CreateSession(ctx, sandboxID, session)
}

func (o *ObservedProvider) ExecSession(ctx context.Context, sandboxID, session, command string, async bool) error {
	return o.inner.ExecSession(ctx, sandboxID, session, command, async)
}
