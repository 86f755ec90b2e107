package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(name string, v int, err error, calls *[]string) Step[int] {
	return Step[int]{Name: name, Try: func(context.Context) (int, error) {
		*calls = append(*calls, name)
		return v, err
	}}
}

func TestRun(t *testing.T) {
	miss := errors.New("not found")

	t.Run("first success short-circuits", func(t *testing.T) {
		var calls []string
		res := Run(context.Background(), []Step[int]{
			step("a", 0, miss, &calls),
			step("b", 2, nil, &calls),
			step("c", 3, nil, &calls),
		})

		require.True(t, res.OK())
		assert.Equal(t, 2, res.Value)
		assert.Equal(t, "b", res.Step)
		assert.Equal(t, []string{"a", "b"}, calls)
		require.Len(t, res.Misses, 1)
		assert.Equal(t, "a", res.Misses[0].Step)
		assert.NoError(t, res.Err())
	})

	t.Run("exhaustion is a result, not a panic", func(t *testing.T) {
		var calls []string
		res := Run(context.Background(), []Step[int]{
			step("a", 0, miss, &calls),
			step("b", 0, miss, &calls),
		})

		assert.False(t, res.OK())
		assert.Len(t, res.Misses, 2)
		assert.ErrorIs(t, res.Err(), ErrExhausted)
		assert.Contains(t, res.Err().Error(), "b: not found")
	})

	t.Run("no steps", func(t *testing.T) {
		res := Run[int](context.Background(), nil)
		assert.False(t, res.OK())
		assert.ErrorIs(t, res.Err(), ErrExhausted)
	})

	t.Run("cancelled context stops iteration", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var calls []string
		steps := []Step[int]{
			{Name: "cancel", Try: func(context.Context) (int, error) {
				calls = append(calls, "cancel")
				cancel()
				return 0, miss
			}},
			step("never", 1, nil, &calls),
		}

		res := Run(ctx, steps)
		assert.False(t, res.OK())
		assert.Equal(t, []string{"cancel"}, calls)
		require.Len(t, res.Misses, 2)
		assert.ErrorIs(t, res.Misses[1].Err, context.Canceled)
	})
}
