package oslec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_frame_io_roundtrip(t *testing.T) {
	var frame = []int16{0, 1, -1, 32767, -32768, 1234, -4321, 100}

	var buf bytes.Buffer
	require.NoError(t, write_frame(&buf, frame))
	assert.Equal(t, len(frame)*2, buf.Len())

	var back = make([]int16, len(frame))
	require.NoError(t, read_frame(&buf, back))
	assert.Equal(t, frame, back)
}

func Test_fifo_setup(t *testing.T) {
	var dir = t.TempDir()
	var config = default_config()
	config.PlaybackFifo = filepath.Join(dir, "ec.input")
	config.OutFifo = filepath.Join(dir, "ec.output")

	require.NoError(t, fifo_setup(&config))

	for _, path := range []string{config.PlaybackFifo, config.OutFifo} {
		var stat, err = os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, stat.Mode()&os.ModeNamedPipe, "%s should be a pipe", path)
	}

	/* Idempotent, and existing paths are left alone. */
	require.NoError(t, fifo_setup(&config))

	/* A plain file standing in for the pipe is accepted. */
	var plain = filepath.Join(dir, "plain.raw")
	require.NoError(t, os.WriteFile(plain, []byte{1, 2}, 0o644))
	config.OutFifo = plain
	require.NoError(t, fifo_setup(&config))
	raw, err := os.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, raw)
}

// Bypass copies channel 0 of the capture straight to every output
// channel; the processed path runs the canceller on channel 0.
func Test_process_frame(t *testing.T) {
	var config = default_config()
	config.RecChannels = 2
	config.OutChannels = 2

	var far = []int16{100, 200, 300, 400}
	var rec = []int16{1000, -1, 2000, -2, 3000, -3, 4000, -4}
	var clean = make([]int16, 4)
	var out = make([]int16, 8)

	config.Bypass = true
	process_frame(nil, &config, far, rec, clean, out)
	assert.Equal(t, []int16{1000, 1000, 2000, 2000, 3000, 3000, 4000, 4000}, out)

	config.Bypass = false
	var ec = must_create(t, 32, 0)
	var twin = must_create(t, 32, 0)
	process_frame(ec, &config, far, rec, clean, out)
	for i := 0; i < 4; i++ {
		var expected = twin.Update(twin.HpfTx(far[i]), rec[i*2])
		assert.Equal(t, expected, out[i*2], "sample %d", i)
		assert.Equal(t, expected, out[i*2+1], "sample %d duplicate", i)
		assert.Equal(t, expected, clean[i])
	}
}
