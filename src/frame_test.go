package oslec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A frame through UpdateFrame is exactly the per sample loop.
func Test_update_frame_matches_per_sample(t *testing.T) {
	var mode = ECHO_CAN_USE_ADAPTION | ECHO_CAN_USE_NLP | ECHO_CAN_USE_RX_HPF
	var by_frame = must_create(t, 64, mode)
	var by_sample = must_create(t, 64, mode)

	var noise test_noise_t
	const frame = 160

	for f := 0; f < 20; f++ {
		var tx = make([]int16, frame)
		var rx = make([]int16, frame)
		for i := range tx {
			tx[i] = noise.next(10000)
			rx[i] = tx[i] / 3
		}

		var out = make([]int16, frame)
		require.Equal(t, frame, by_frame.UpdateFrame(tx, rx, out))

		for i := range tx {
			require.Equal(t, by_sample.Update(tx[i], rx[i]), out[i], "frame %d sample %d", f, i)
		}
	}
}

func Test_update_frame_short_buffers(t *testing.T) {
	var ec = must_create(t, 16, 0)

	var tx = make([]int16, 10)
	var rx = make([]int16, 7)
	var out = make([]int16, 10)

	assert.Equal(t, 7, ec.UpdateFrame(tx, rx, out))
	assert.Equal(t, 0, ec.UpdateFrame(tx, rx, nil))
}
