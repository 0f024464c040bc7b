package lendflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryBuilder_Exponential(t *testing.T) {
	p := Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second).Policy()

	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, p.InitialBackoff)
	require.Equal(t, 2.0, p.BackoffMultiplier)
	require.Equal(t, 2*time.Second, p.MaxBackoff)
}

func TestRetryBuilder_ConstantAndImmediate(t *testing.T) {
	p := Retry(2).WithConstantBackoff(50 * time.Millisecond).Policy()
	require.Equal(t, 50*time.Millisecond, p.InitialBackoff)
	require.Equal(t, 1.0, p.BackoffMultiplier)

	p = Retry(2).WithConstantBackoff(50 * time.Millisecond).Immediate().Policy()
	require.Zero(t, p.InitialBackoff)
	require.Zero(t, p.MaxBackoff)
	require.Zero(t, p.BackoffMultiplier)
}

func TestRetryBuilder_ClampsAttempts(t *testing.T) {
	require.Equal(t, 1, Retry(0).Policy().MaxAttempts)
	require.Equal(t, 1, Retry(-4).Policy().MaxAttempts)
}

func TestRetryBuilder_DefaultsMultiplier(t *testing.T) {
	p := Retry(3).WithExponentialBackoff(time.Millisecond, 0, 0).Policy()
	require.Equal(t, 2.0, p.BackoffMultiplier)
}
