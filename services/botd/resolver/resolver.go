package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"llamabot/services/botd/contract"
	"llamabot/services/botd/directory"
	"llamabot/services/botd/events"
)

// Outcome classifies a request for the current run.
type Outcome string

const (
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeNotStarted  Outcome = "not_started"
	OutcomeNotDue      Outcome = "not_due"
	OutcomeNoDirectory Outcome = "no_directory"
	OutcomeDirect      Outcome = "direct"
	OutcomeWildcard    Outcome = "wildcard"
	OutcomeRedirect    Outcome = "redirect"
)

// Due reports whether the outcome produced calls.
func (o Outcome) Due() bool {
	switch o {
	case OutcomeDirect, OutcomeWildcard, OutcomeRedirect:
		return true
	default:
		return false
	}
}

// Decision records how one request was classified.
type Decision struct {
	Key     events.Key
	Owner   common.Address
	Outcome Outcome
	Calls   int
}

// BlockClock resolves block timestamps.
type BlockClock interface {
	BlockTime(ctx context.Context, number uint64) (uint64, error)
}

// ClockFunc adapts a function to BlockClock.
type ClockFunc func(ctx context.Context, number uint64) (uint64, error)

// BlockTime delegates to the function.
func (f ClockFunc) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	return f(ctx, number)
}

// Resolver turns grouped request histories into the run's batch plan.
type Resolver struct {
	codec     *contract.Codec
	clock     BlockClock
	directory directory.Directory
	window    Window
	logger    *slog.Logger
	times     map[uint64]uint64
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithDirectory enables wildcard expansion through dir.
func WithDirectory(dir directory.Directory) Option {
	return func(r *Resolver) { r.directory = dir }
}

// WithLogger sets the logger used for per-request decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New constructs a resolver for one run. The block-time memo lives as long
// as the resolver, so a resolver must not be reused across runs.
func New(codec *contract.Codec, clock BlockClock, window Window, opts ...Option) *Resolver {
	r := &Resolver{
		codec:  codec,
		clock:  clock,
		window: window,
		logger: slog.Default(),
		times:  make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve classifies every request in groups and collects the calls of the
// due ones. Any lookup failure aborts the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, groups *events.Groups) (*Plan, []Decision, error) {
	if r.codec == nil || r.clock == nil {
		return nil, nil, fmt.Errorf("resolver not initialised")
	}
	plan := NewPlan()
	decisions := make([]Decision, 0, groups.Len())
	for _, key := range groups.Keys() {
		last, ok := events.Authoritative(groups.Records(key))
		if !ok {
			continue
		}
		outcome, calls, err := r.resolve(ctx, last)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		plan.Add(calls...)
		decision := Decision{Key: key, Owner: last.Owner, Outcome: outcome, Calls: len(calls)}
		decisions = append(decisions, decision)
		level := slog.LevelDebug
		if outcome.Due() {
			level = slog.LevelInfo
		}
		r.logger.Log(ctx, level, "request resolved",
			slog.String("key", key.String()),
			slog.String("owner", last.Owner.Hex()),
			slog.String("last_event", last.Kind.String()),
			slog.String("outcome", string(outcome)),
			slog.Int("calls", len(calls)),
		)
	}
	return plan, decisions, nil
}

func (r *Resolver) resolve(ctx context.Context, last events.Record) (Outcome, []Call, error) {
	if outcome, err := r.gate(ctx, last); err != nil || outcome != "" {
		return outcome, nil, err
	}
	switch last.Family {
	case events.FamilyRedirect:
		call, err := r.redirectCall(last)
		if err != nil {
			return "", nil, err
		}
		return OutcomeRedirect, []Call{call}, nil
	case events.FamilyWithdraw:
		if isDirect(last) {
			call, err := r.withdrawCall(last, true)
			if err != nil {
				return "", nil, err
			}
			return OutcomeDirect, []Call{call}, nil
		}
		if r.directory == nil {
			return OutcomeNoDirectory, nil, nil
		}
		calls, err := r.expand(ctx, last)
		if err != nil {
			return "", nil, err
		}
		return OutcomeWildcard, calls, nil
	default:
		return "", nil, fmt.Errorf("unknown request family %s", last.Family)
	}
}

// gate applies the skip rules shared by every family and returns a non-empty
// outcome when the request is not due.
func (r *Resolver) gate(ctx context.Context, last events.Record) (Outcome, error) {
	if last.Kind == events.KindCancelled {
		return OutcomeCancelled, nil
	}
	if last.Starts >= r.window.End {
		return OutcomeNotStarted, nil
	}
	if last.Kind == events.KindExecuted {
		ts, err := r.blockTime(ctx, last.BlockNumber)
		if err != nil {
			return "", err
		}
		if !r.window.Contains(ts + last.Frequency) {
			return OutcomeNotDue, nil
		}
	}
	return "", nil
}

func (r *Resolver) blockTime(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := r.times[number]; ok {
		return ts, nil
	}
	ts, err := r.clock.BlockTime(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("block time %d: %w", number, err)
	}
	r.times[number] = ts
	return ts, nil
}

func isDirect(rec events.Record) bool {
	return rec.SourceVault.IsSet() &&
		rec.From.IsSet() &&
		rec.To.IsSet() &&
		rec.AmountPerSec != nil && rec.AmountPerSec.Sign() != 0
}

// wildcardRole picks the side of the owner's streams to expand: an unset
// payer expands over streams the owner pays, otherwise over streams the
// owner receives.
func wildcardRole(rec events.Record) directory.Role {
	if !rec.From.IsSet() {
		return directory.RolePayer
	}
	return directory.RolePayee
}

func (r *Resolver) expand(ctx context.Context, last events.Record) ([]Call, error) {
	role := wildcardRole(last)
	streams, err := r.directory.ActiveStreams(ctx, last.Owner, role)
	if err != nil {
		return nil, fmt.Errorf("expand %s streams of %s: %w", role, last.Owner.Hex(), err)
	}
	calls := make([]Call, 0, len(streams)+1)
	for _, stream := range streams {
		data, err := r.codec.PackWithdraw(last.Owner,
			events.Fixed(stream.Contract),
			events.Fixed(stream.Payer),
			events.Fixed(stream.Payee),
			stream.AmountPerSec,
			last.Starts,
			last.Frequency,
			true,
			false,
		)
		if err != nil {
			return nil, err
		}
		calls = append(calls, Call{
			Owner:  last.Owner,
			Key:    last.Key(),
			Method: contract.MethodExecuteWithdraw,
			Data:   data,
			Final:  false,
		})
	}
	closing, err := r.withdrawCall(last, false)
	if err != nil {
		return nil, err
	}
	return append(calls, closing), nil
}

// withdrawCall encodes the request's own fields. execute=false is the
// closing entry of a wildcard expansion.
func (r *Resolver) withdrawCall(last events.Record, execute bool) (Call, error) {
	data, err := r.codec.PackWithdraw(last.Owner,
		last.SourceVault,
		last.From,
		last.To,
		last.AmountPerSec,
		last.Starts,
		last.Frequency,
		execute,
		true,
	)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Owner:  last.Owner,
		Key:    last.Key(),
		Method: contract.MethodExecuteWithdraw,
		Data:   data,
		Final:  true,
	}, nil
}

func (r *Resolver) redirectCall(last events.Record) (Call, error) {
	data, err := r.codec.PackRedirect(last.From, last.To, last.Token, last.Amount, last.Starts, last.Frequency)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Owner:  last.Owner,
		Key:    last.Key(),
		Method: contract.MethodExecuteRedirect,
		Data:   data,
		Final:  true,
	}, nil
}
