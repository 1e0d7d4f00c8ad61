package oslec

/*------------------------------------------------------------------
 *
 * Purpose:   	Host program wrapping the echo canceller.
 *
 * Description:	Reads the far end reference from a named pipe or raw
 *		file, reads the near end capture from a raw file or the
 *		sound card, and writes echo cancelled audio to a named
 *		pipe or raw file.  16 bit signed little endian PCM
 *		throughout, processed in 10ms frames.
 *
 * Usage:	oec [ options ]
 *
 *		`cat audio.raw > /tmp/ec.input` to play audio.
 *		`cat /tmp/ec.output > out.raw` to collect the result.
 *
 *		Only mono playback is supported.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

/* Raw audio dumps, enabled with -s.  One file per stream so a capture
   session can be replayed through the canceller offline. */

type save_files_t struct {
	far *os.File
	rec *os.File
	out *os.File
}

func (save *save_files_t) close() {
	if save == nil {
		return
	}
	save.far.Close()
	save.rec.Close()
	save.out.Close()
}

func open_save_files() (*save_files_t, error) {
	var stamp, err = strftime.Format("%Y%m%d-%H%M%S", time.Now())
	if err != nil {
		return nil, err
	}

	var save save_files_t
	if save.far, err = os.Create("/tmp/playback-" + stamp + ".raw"); err != nil {
		return nil, err
	}
	if save.rec, err = os.Create("/tmp/recording-" + stamp + ".raw"); err != nil {
		save.far.Close()
		return nil, err
	}
	if save.out, err = os.Create("/tmp/out-" + stamp + ".raw"); err != nil {
		save.far.Close()
		save.rec.Close()
		return nil, err
	}

	return &save, nil
}

/*------------------------------------------------------------------
 *
 * Name:	fifo_setup
 *
 * Purpose:	Make sure the playback and output pipes exist.
 *
 * Description:	An existing path of any kind is left alone, so plain
 *		files can be substituted for the pipes when replaying
 *		captured audio.
 *
 *----------------------------------------------------------------*/

func fifo_setup(config *conf_t) error {
	for _, path := range []string{config.PlaybackFifo, config.OutFifo} {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
			return err
		}
	}
	return nil
}

/* read_frame fills buf with little endian int16 samples.  A clean EOF
   before the first sample returns io.EOF; a partial frame is an error. */

func read_frame(r io.Reader, buf []int16) error {
	return binary.Read(r, binary.LittleEndian, buf)
}

func write_frame(w io.Writer, buf []int16) error {
	return binary.Write(w, binary.LittleEndian, buf)
}

/*------------------------------------------------------------------
 *
 * Name:	OECMain
 *
 * Purpose:	Entry point for the oec program.
 *
 *----------------------------------------------------------------*/

func OECMain() {
	var config_path = pflag.String("config", "", "YAML configuration file")
	var _capture = pflag.StringP("input", "i", "", "Capture source. A raw PCM path, or \"default\" for the sound card with --live.")
	var _playback = pflag.StringP("output", "o", "", "Playback sink for --live. Ignored otherwise.")
	var _rate = pflag.IntP("rate", "r", 0, "Sample rate")
	var _channels = pflag.IntP("channels", "c", 0, "Recording (and output) channels")
	var _buffer_size = pflag.IntP("buffer-size", "b", 0, "Buffer size")
	var _delay = pflag.IntP("delay", "d", 0, "System delay between playback and capture, in frames of capture to skip")
	var _filter_length = pflag.IntP("filter-length", "f", 0, "Echo canceller filter length in samples")
	var save_audio = pflag.BoolP("save", "s", false, "Save audio to /tmp/playback-*.raw, /tmp/recording-*.raw and /tmp/out-*.raw")
	var live = pflag.BoolP("live", "l", false, "Capture and play through the sound card instead of files")
	var bypass = pflag.Bool("bypass", false, "Copy capture to output without cancellation")
	var help = pflag.Bool("help", false, "Display help text")

	pflag.Usage = func() {
		os.Stderr.WriteString("oec - line echo canceller\n")
		os.Stderr.WriteString("\n")
		os.Stderr.WriteString("Usage:\n")
		os.Stderr.WriteString("  oec [ options ]\n")
		os.Stderr.WriteString("\n")
		os.Stderr.WriteString("Options:\n")
		pflag.CommandLine.SetOutput(os.Stderr)
		pflag.PrintDefaults()
		os.Stderr.WriteString("\n")
		os.Stderr.WriteString("Audio moves through named pipes:\n")
		os.Stderr.WriteString("  `cat audio.raw > /tmp/ec.input` to play audio\n")
		os.Stderr.WriteString("  `cat /tmp/ec.output > out.raw` to get recorded audio\n")
		os.Stderr.WriteString("Only mono playback is supported.\n")
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	var config, err = load_config(*config_path)
	if err != nil {
		log.Fatal("Bad configuration", "error", err)
	}

	if *_capture != "" {
		config.RecPCM = *_capture
	}
	if *_playback != "" {
		config.OutPCM = *_playback
	}
	if *_rate > 0 {
		config.Rate = *_rate
	}
	if *_channels > 0 {
		config.RecChannels = *_channels
		config.OutChannels = *_channels
	}
	if *_buffer_size > 0 {
		config.BufferSize = *_buffer_size
	}
	if *_filter_length > 0 {
		config.FilterLength = *_filter_length
	}
	if *bypass {
		config.Bypass = true
	}
	if err := config.validate(); err != nil {
		log.Fatal("Bad configuration", "error", err)
	}

	var frame_size = config.frame_size()

	log.Info("Starting",
		"rate", config.Rate,
		"frame_size", frame_size,
		"filter_length", config.FilterLength,
		"channels", config.RecChannels,
		"live", *live,
		"bypass", config.Bypass)

	ec, err := Create(config.FilterLength,
		ECHO_CAN_USE_ADAPTION|ECHO_CAN_USE_NLP|ECHO_CAN_USE_CLIP|
			ECHO_CAN_USE_TX_HPF|ECHO_CAN_USE_RX_HPF)
	if err != nil {
		log.Fatal("Echo canceller creation failed", "error", err)
	}
	defer ec.Free()

	var save *save_files_t
	if *save_audio {
		if save, err = open_save_files(); err != nil {
			log.Fatal("Failed to open save files", "error", err)
		}
		defer save.close()
	}

	if err := fifo_setup(&config); err != nil {
		log.Fatal("FIFO setup failed", "error", err)
	}

	var quit = make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, unix.SIGTERM)

	if *live {
		if err := oec_live(&config, ec, *_delay, save, quit); err != nil {
			log.Fatal("Live mode failed", "error", err)
		}
		return
	}

	if config.RecPCM == "default" {
		log.Fatal("File mode needs a capture path. Give -i, or use --live for the sound card.")
	}

	far_file, err := os.Open(config.PlaybackFifo)
	if err != nil {
		log.Fatal("Failed to open playback source", "error", err)
	}
	defer far_file.Close()
	var far_in = bufio.NewReaderSize(far_file, config.PlaybackFifoSize)

	rec_file, err := os.Open(config.RecPCM)
	if err != nil {
		log.Fatal("Failed to open capture source", "error", err)
	}
	defer rec_file.Close()
	var rec_in = bufio.NewReaderSize(rec_file, config.BufferSize)

	out_file, err := os.OpenFile(config.OutFifo, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.Fatal("Failed to open output sink", "error", err)
	}
	defer out_file.Close()
	var out = bufio.NewWriterSize(out_file, config.BufferSize)
	defer out.Flush()

	var far = make([]int16, frame_size)
	var rec = make([]int16, frame_size*config.RecChannels)
	var clean = make([]int16, frame_size)
	var out_frame = make([]int16, frame_size*config.OutChannels)

	/* System delay between recording and playback. */
	var skipped = 0
	for i := 0; i < *_delay; i++ {
		if err := read_frame(rec_in, rec); err != nil {
			break
		}
		skipped++
	}
	log.Info("Skipped frames", "count", skipped)

	log.Info("Running. Press Ctrl+C to exit.")

	var frames = 0
loop:
	for {
		select {
		case sig := <-quit:
			log.Info("Caught signal, quitting", "signal", sig)
			break loop
		default:
		}

		if err := read_frame(rec_in, rec); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error("Capture read failed", "error", err)
			}
			break
		}
		if err := read_frame(far_in, far); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error("Playback read failed", "error", err)
			}
			break
		}

		process_frame(ec, &config, far, rec, clean, out_frame)

		if err := write_frame(out, out_frame); err != nil {
			log.Error("Output write failed", "error", err)
			break
		}
		/* Keep pipe latency down to one frame. */
		if err := out.Flush(); err != nil {
			log.Error("Output flush failed", "error", err)
			break
		}

		if save != nil {
			write_frame(save.far, far)
			write_frame(save.rec, rec)
			write_frame(save.out, out_frame)
		}

		frames++
	}

	log.Info("Done", "frames", frames)
}

/*------------------------------------------------------------------
 *
 * Name:	process_frame
 *
 * Purpose:	One frame through the canceller, fanned back out to
 *		the output channel count.
 *
 * Inputs:	far	- Reference frame, mono.
 *		rec	- Capture frame, RecChannels interleaved.
 *
 * Outputs:	clean		- Cleaned mono frame.
 *		out_frame	- Cleaned frame, OutChannels interleaved.
 *
 * Description:	The canceller is strictly monaural.  Channel 0 of the
 *		capture is processed against the reference and the
 *		result is replicated across the output channels.
 *		The transmit highpass runs first, the way a host would
 *		filter its signal before it reaches the hybrid.
 *
 *----------------------------------------------------------------*/

func process_frame(ec *State, config *conf_t, far []int16, rec []int16, clean []int16, out_frame []int16) {
	var n = len(far)

	if config.Bypass {
		for i := 0; i < n; i++ {
			for ch := 0; ch < config.OutChannels; ch++ {
				out_frame[i*config.OutChannels+ch] = rec[i*config.RecChannels]
			}
		}
		return
	}

	for i := 0; i < n; i++ {
		var tx = ec.HpfTx(far[i])
		clean[i] = ec.Update(tx, rec[i*config.RecChannels])
		for ch := 0; ch < config.OutChannels; ch++ {
			out_frame[i*config.OutChannels+ch] = clean[i]
		}
	}
}
