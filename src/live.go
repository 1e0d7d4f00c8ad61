package oslec

/*------------------------------------------------------------------
 *
 * Purpose:	Live duplex mode for the oec program.
 *
 * Description:	Plays the far end reference out of the sound card
 *		while capturing the microphone, one 10ms frame at a
 *		time, and writes the echo cancelled capture to the
 *		output pipe.  The reference still arrives through the
 *		playback pipe, so the same `cat audio.raw` workflow
 *		drives both modes.
 *
 *----------------------------------------------------------------*/

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

/*------------------------------------------------------------------
 *
 * Name:	oec_live
 *
 * Purpose:	Run the sound card frame loop until the reference
 *		stream ends or a signal arrives.
 *
 * Inputs:	config	- Host configuration.
 *		ec	- Canceller instance.
 *		delay	- Capture frames to discard at startup, to
 *			  soak up the playback to capture latency.
 *		save	- Raw dump files, or nil.
 *		quit	- Signal channel.
 *
 *----------------------------------------------------------------*/

func oec_live(config *conf_t, ec *State, delay int, save *save_files_t, quit chan os.Signal) error {
	var frame_size = config.frame_size()

	if config.RecPCM != "default" || config.OutPCM != "default" {
		log.Warn("Only the default sound device is supported in live mode",
			"capture", config.RecPCM, "playback", config.OutPCM)
	}

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	var mic = make([]int16, frame_size)
	var speaker = make([]int16, frame_size)

	stream, err := portaudio.OpenDefaultStream(1, 1, float64(config.Rate), frame_size, mic, speaker)
	if err != nil {
		return err
	}
	defer stream.Close()

	far_file, err := os.Open(config.PlaybackFifo)
	if err != nil {
		return err
	}
	defer far_file.Close()
	var far_in = bufio.NewReaderSize(far_file, config.PlaybackFifoSize)

	out_file, err := os.OpenFile(config.OutFifo, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out_file.Close()
	var out = bufio.NewWriterSize(out_file, config.BufferSize)
	defer out.Flush()

	var far = make([]int16, frame_size)
	var clean = make([]int16, frame_size)

	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	/* Soak up the playback to capture latency so the reference and
	   the echo roughly line up inside the filter span. */
	var skipped = 0
	for i := 0; i < delay; i++ {
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}
		skipped++
	}
	log.Info("Skipped frames", "count", skipped)

	log.Info("Running live. Press Ctrl+C to exit.")

	var frames = 0
	for {
		select {
		case sig := <-quit:
			log.Info("Caught signal, quitting", "signal", sig)
			return nil
		default:
		}

		if err := read_frame(far_in, far); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Reference stream ended", "frames", frames)
				return nil
			}
			return err
		}

		copy(speaker, far)
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return err
		}

		if config.Bypass {
			copy(clean, mic)
		} else {
			for i := 0; i < frame_size; i++ {
				var tx = ec.HpfTx(far[i])
				clean[i] = ec.Update(tx, mic[i])
			}
		}

		if err := write_frame(out, clean); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}

		if save != nil {
			write_frame(save.far, far)
			write_frame(save.rec, mic)
			write_frame(save.out, clean)
		}

		frames++
	}
}
