package nodescan

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func staticSource(name string, value float64, err error, calls *[]string) Source[float64] {
	return Source[float64]{
		Name: name,
		Fetch: func(context.Context) (float64, error) {
			*calls = append(*calls, name)
			return value, err
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sources    func(calls *[]string) []Source[float64]
		wantValue  float64
		wantSource string
		wantCalls  []string
		wantErr    bool
	}{
		{
			name: "first source wins",
			sources: func(calls *[]string) []Source[float64] {
				return []Source[float64]{
					staticSource("a", 1, nil, calls),
					staticSource("b", 2, nil, calls),
				}
			},
			wantValue:  1,
			wantSource: "a",
			wantCalls:  []string{"a"},
		},
		{
			name: "falls through errors",
			sources: func(calls *[]string) []Source[float64] {
				return []Source[float64]{
					staticSource("a", 0, errUpstream, calls),
					staticSource("b", 2, nil, calls),
				}
			},
			wantValue:  2,
			wantSource: "b",
			wantCalls:  []string{"a", "b"},
		},
		{
			name: "rejects invalid values",
			sources: func(calls *[]string) []Source[float64] {
				return []Source[float64]{
					staticSource("a", 0, nil, calls),
					staticSource("b", -4, nil, calls),
					staticSource("c", 3, nil, calls),
				}
			},
			wantValue:  3,
			wantSource: "c",
			wantCalls:  []string{"a", "b", "c"},
		},
		{
			name: "exhausted",
			sources: func(calls *[]string) []Source[float64] {
				return []Source[float64]{
					staticSource("a", 0, errUpstream, calls),
					staticSource("b", 0, ErrNotFound, calls),
				}
			},
			wantSource: SourceNone,
			wantCalls:  []string{"a", "b"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls []string
			res, err := Resolve(context.Background(), zap.NewNop(), nil, "test", tt.sources(&calls), positive)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrAllSourcesFailed)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantValue, res.Value)
			assert.Equal(t, tt.wantSource, res.Source)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestResolveWrapsSourceErrors(t *testing.T) {
	t.Parallel()

	var calls []string
	_, err := Resolve(context.Background(), nil, nil, "total_stake", []Source[float64]{
		staticSource("rpc", 0, errUpstream, &calls),
		staticSource("solscan", 0, ErrNotFound, &calls),
	}, positive)

	require.Error(t, err)
	assert.ErrorIs(t, err, errUpstream)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "total_stake")
	assert.Contains(t, err.Error(), "solscan")
}

func TestResolveWithoutSources(t *testing.T) {
	t.Parallel()

	res, err := Resolve[float64](context.Background(), nil, nil, "epoch", nil, positive)
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Equal(t, SourceNone, res.Source)
}

func TestResolveStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	sources := []Source[float64]{
		{Name: "a", Fetch: func(context.Context) (float64, error) {
			calls = append(calls, "a")
			cancel()
			return 0, errUpstream
		}},
		staticSource("b", 1, nil, &calls),
	}

	_, err := Resolve(ctx, nil, nil, "test", sources, positive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"a"}, calls)
}

func TestResolveRecordsMetrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	var calls []string
	_, err := Resolve(context.Background(), nil, metrics, "total_stake", []Source[float64]{
		staticSource(SourceRPC, 0, nil, &calls),
		staticSource(SourceStakewiz, 0, ErrNotFound, &calls),
		staticSource(SourceSolscan, 7, nil, &calls),
	}, positive)
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, metrics.sourceAttempts.WithLabelValues("total_stake", SourceRPC)))
	assert.Equal(t, 1.0, counterValue(t, metrics.sourceAttempts.WithLabelValues("total_stake", SourceSolscan)))
	assert.Equal(t, 1.0, counterValue(t, metrics.sourceFailures.WithLabelValues("total_stake", SourceRPC, "no_data")))
	assert.Equal(t, 1.0, counterValue(t, metrics.sourceFailures.WithLabelValues("total_stake", SourceStakewiz, "not_found")))
}
