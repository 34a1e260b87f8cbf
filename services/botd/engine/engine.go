package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"llamabot/services/botd/batch"
	"llamabot/services/botd/chain"
	"llamabot/services/botd/contract"
	"llamabot/services/botd/directory"
	"llamabot/services/botd/events"
	"llamabot/services/botd/resolver"
)

// Config describes one scheduler deployment.
type Config struct {
	Chain        string
	Contract     common.Address
	StartBlock   uint64
	MaxBlockSpan uint64
}

// Report summarises one run.
type Report struct {
	RunID      string
	Chain      string
	Window     resolver.Window
	Head       uint64
	Logs       int
	Records    int
	Requests   int
	Outcomes   map[resolver.Outcome]int
	Decisions  []resolver.Decision
	Batch      batch.Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine runs the fetch, decode, resolve and batch stages for one deployment.
type Engine struct {
	cfg       Config
	client    chain.Client
	codec     *contract.Codec
	directory directory.Directory
	builder   *batch.Builder
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithDirectory enables wildcard expansion.
func WithDirectory(dir directory.Directory) Option {
	return func(e *Engine) { e.directory = dir }
}

// WithClock sets the wall clock used to derive the due window.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs an engine.
func New(cfg Config, client chain.Client, codec *contract.Codec, builder *batch.Builder, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("engine: chain client required")
	}
	if codec == nil {
		return nil, fmt.Errorf("engine: codec required")
	}
	if builder == nil {
		return nil, fmt.Errorf("engine: batch builder required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("engine: contract address required")
	}
	e := &Engine{
		cfg:     cfg,
		client:  client,
		codec:   codec,
		builder: builder,
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer("botd/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Chain returns the deployment name.
func (e *Engine) Chain() string { return e.cfg.Chain }

// Run performs one complete pass. The first error aborts the run before
// anything is submitted.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		Chain:     e.cfg.Chain,
		StartedAt: e.now(),
		Outcomes:  make(map[resolver.Outcome]int),
	}
	report.Window = resolver.DayWindow(report.StartedAt)
	logger := e.logger.With(slog.String("chain", e.cfg.Chain), slog.String("run_id", report.RunID))

	ctx, span := e.tracer.Start(ctx, "botd.run", trace.WithAttributes(
		attribute.String("botd.chain", e.cfg.Chain),
		attribute.String("botd.run_id", report.RunID),
	))
	defer span.End()

	err := e.run(ctx, logger, &report)
	report.FinishedAt = e.now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		return report, err
	}
	span.SetAttributes(
		attribute.Int("botd.requests", report.Requests),
		attribute.Int("botd.owners_included", report.Batch.Included),
		attribute.Bool("botd.submitted", report.Batch.Submitted),
	)
	logger.Info("run complete",
		slog.String("window", report.Window.String()),
		slog.Uint64("head", report.Head),
		slog.Int("logs", report.Logs),
		slog.Int("requests", report.Requests),
		slog.Int("owners_included", report.Batch.Included),
		slog.Int("owners_dropped", len(report.Batch.Dropped())),
		slog.Bool("submitted", report.Batch.Submitted),
		slog.String("tx_hash", txHash(report.Batch)),
	)
	return report, nil
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, report *Report) error {
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}
	report.Head = head

	records, err := e.collect(ctx, report)
	if err != nil {
		return err
	}
	groups := events.Group(records)
	report.Requests = groups.Len()

	plan, err := e.resolve(ctx, logger, groups, report)
	if err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "botd.execute", trace.WithAttributes(
		attribute.Int("botd.owners", plan.Len()),
		attribute.Int("botd.calls", plan.CallCount()),
	))
	defer span.End()
	result, err := e.builder.Execute(ctx, plan)
	report.Batch = result
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute failed")
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// collect fetches every scheduler log from the start block to head and
// decodes it, preserving fetch order.
func (e *Engine) collect(ctx context.Context, report *Report) ([]events.Record, error) {
	ctx, span := e.tracer.Start(ctx, "botd.fetch", trace.WithAttributes(
		attribute.Int64("botd.from_block", int64(e.cfg.StartBlock)),
		attribute.Int64("botd.head", int64(report.Head)),
	))
	defer span.End()

	fetcher := chain.NewFetcher(e.client, e.cfg.Contract, e.codec.Topics(), e.cfg.MaxBlockSpan)
	logs, err := fetcher.Fetch(ctx, e.cfg.StartBlock, report.Head)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetch logs: %w", err)
	}
	report.Logs = len(logs)

	records := make([]events.Record, 0, len(logs))
	for _, log := range logs {
		rec, ok, err := e.codec.Decode(log)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	report.Records = len(records)
	span.SetAttributes(attribute.Int("botd.logs", len(logs)), attribute.Int("botd.records", len(records)))
	return records, nil
}

func (e *Engine) resolve(ctx context.Context, logger *slog.Logger, groups *events.Groups, report *Report) (*resolver.Plan, error) {
	ctx, span := e.tracer.Start(ctx, "botd.resolve", trace.WithAttributes(
		attribute.Int("botd.requests", groups.Len()),
	))
	defer span.End()

	clock := resolver.ClockFunc(func(ctx context.Context, number uint64) (uint64, error) {
		return chain.BlockTime(ctx, e.client, number)
	})
	opts := []resolver.Option{resolver.WithLogger(logger)}
	if e.directory != nil {
		opts = append(opts, resolver.WithDirectory(e.directory))
	}
	plan, decisions, err := resolver.New(e.codec, clock, report.Window, opts...).Resolve(ctx, groups)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	report.Decisions = decisions
	for _, decision := range decisions {
		report.Outcomes[decision.Outcome]++
	}
	return plan, nil
}

func txHash(result batch.Result) string {
	if !result.Submitted {
		return ""
	}
	return result.TxHash.Hex()
}
