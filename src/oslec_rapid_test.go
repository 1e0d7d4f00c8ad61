package oslec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// The structural invariants hold for any filter length, any mode and
// any input stream whatsoever.
func Test_update_invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var taps = rapid.IntRange(1, 200).Draw(t, "taps")
		var mode = rapid.IntRange(0, 0x7F).Draw(t, "mode")
		var stream = rapid.SliceOfN(rapid.Int16(), 1, 200).Draw(t, "stream")

		var ec, err = Create(taps, mode)
		require.NoError(t, err)

		for i := 0; i+1 < len(stream); i += 2 {
			ec.Update(stream[i], stream[i+1])

			assert.GreaterOrEqual(t, ec.curr_pos, 0)
			assert.Less(t, ec.curr_pos, taps)
			assert.Equal(t, ec.curr_pos, ec.fir_state.curr_pos)
			assert.Equal(t, ec.curr_pos, ec.fir_state_bg.curr_pos)

			assert.GreaterOrEqual(t, ec.Pstates, int32(0))

			assert.GreaterOrEqual(t, ec.nonupdate_dwell, 0)
			assert.LessOrEqual(t, ec.nonupdate_dwell, DTD_HANGOVER)

			assert.GreaterOrEqual(t, ec.cond_met, 0)
			assert.LessOrEqual(t, ec.cond_met, 6)
		}
	})
}

// Disabled output is the near end input, exactly, for any input.
func Test_disable_bypass_exact(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var taps = rapid.IntRange(1, 128).Draw(t, "taps")
		var ec, err = Create(taps, ECHO_CAN_DISABLE)
		require.NoError(t, err)

		var stream = rapid.SliceOfN(rapid.Int16(), 2, 100).Draw(t, "stream")
		for i := 0; i+1 < len(stream); i += 2 {
			assert.Equal(t, stream[i+1], ec.Update(stream[i], stream[i+1]))
		}
	})
}

// With no flags set and all taps still zero the canceller is just the
// halve and double scaling, which only costs the bottom bit.
func Test_zero_mode_is_lossy_identity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var taps = rapid.IntRange(1, 128).Draw(t, "taps")
		var ec, err = Create(taps, 0)
		require.NoError(t, err)

		var stream = rapid.SliceOfN(rapid.Int16(), 2, 100).Draw(t, "stream")
		for i := 0; i+1 < len(stream); i += 2 {
			/* The foreground taps cannot change without the adaption
			   flag, so this holds for any far end signal. */
			var rx = stream[i+1]
			assert.Equal(t, (rx>>1)<<1, ec.Update(stream[i], rx))
		}
	})
}

// The transmit highpass clips to +/-32767 and so never emits the one
// value outside that range.
func Test_hpf_tx_bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var ec, err = Create(16, ECHO_CAN_USE_TX_HPF)
		require.NoError(t, err)

		var stream = rapid.SliceOfN(rapid.Int16(), 1, 300).Draw(t, "stream")
		for _, tx := range stream {
			assert.NotEqual(t, int16(-32768), ec.HpfTx(tx))
		}
	})
}

// Whatever state an instance is in, Flush makes it indistinguishable
// from a freshly created one.
func Test_flush_equals_fresh(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var taps = rapid.IntRange(1, 64).Draw(t, "taps")
		var mode = rapid.IntRange(0, 0x7F).Draw(t, "mode")

		var used, err = Create(taps, mode)
		require.NoError(t, err)
		var fresh, err2 = Create(taps, mode)
		require.NoError(t, err2)

		var prefix = rapid.SliceOfN(rapid.Int16(), 0, 200).Draw(t, "prefix")
		for i := 0; i+1 < len(prefix); i += 2 {
			used.Update(prefix[i], prefix[i+1])
			used.HpfTx(prefix[i])
		}

		used.Flush()

		var shared = rapid.SliceOfN(rapid.Int16(), 2, 200).Draw(t, "shared")
		for i := 0; i+1 < len(shared); i += 2 {
			require.Equal(t, fresh.HpfTx(shared[i]), used.HpfTx(shared[i]))
			require.Equal(t, fresh.Update(shared[i], shared[i+1]), used.Update(shared[i], shared[i+1]))
		}
	})
}
