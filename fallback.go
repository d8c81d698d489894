package nodescan

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Source names reported with every resolved value.
const (
	SourceRPC           = "rpc"
	SourceStakewiz      = "stakewiz"
	SourceStakewizStake = "stakewiz_stake"
	SourceSolscan       = "solscan"
	SourceSolanaFM      = "solanafm"
	SourceStore         = "store"
	SourceSynthetic     = "synthetic"
	SourceNone          = "none"
)

var (
	// ErrNoData marks a source that answered without usable data.
	ErrNoData = errors.New("source returned no data")
	// ErrAllSourcesFailed is returned when no source produced a valid value.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// Source is one named supplier in a fallback chain.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// Resolution is the first valid value of a chain and the source it came from.
type Resolution[T any] struct {
	Value  T
	Source string
}

// Resolve tries sources in order and returns the first value accepted by
// valid. Source errors and rejected values are logged, counted and collected
// into the returned error when the chain is exhausted.
func Resolve[T any](ctx context.Context, log *zap.Logger, metrics *Metrics, metric string, sources []Source[T], valid func(T) bool) (Resolution[T], error) {
	if log == nil {
		log = zap.NewNop()
	}

	var errs *multierror.Error
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		metrics.sourceAttempt(metric, source.Name)
		value, err := source.Fetch(ctx)
		if err == nil && valid != nil && !valid(value) {
			err = ErrNoData
		}
		if err == nil {
			log.Debug("source resolved",
				zap.String("metric", metric),
				zap.String("source", source.Name))
			return Resolution[T]{Value: value, Source: source.Name}, nil
		}

		metrics.sourceFailure(metric, source.Name, failureReason(err))
		log.Warn("source failed",
			zap.String("metric", metric),
			zap.String("source", source.Name),
			zap.Error(err))
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", source.Name, err))
	}

	var zero T
	if errs == nil {
		return Resolution[T]{Value: zero, Source: SourceNone}, fmt.Errorf("%s: %w: no sources configured", metric, ErrAllSourcesFailed)
	}
	return Resolution[T]{Value: zero, Source: SourceNone}, fmt.Errorf("%s: %w: %w", metric, ErrAllSourcesFailed, errs.ErrorOrNil())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrResponseTooLarge):
		return "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func positive(v float64) bool { return v > 0 }

func nonEmpty[T any](items []T) bool { return len(items) > 0 }
