package oslec

/*------------------------------------------------------------------
 *
 * Purpose:	Host configuration for the oec program.
 *
 * Description:	Mirrors the configuration block of the original C
 *		driver.  Values come from built in defaults, then an
 *		optional YAML file, then command line flags, in that
 *		order.
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type conf_t struct {
	RecPCM       string `yaml:"rec_pcm"`       /* Capture source.  A raw PCM path, or "default" for the sound card in live mode. */
	OutPCM       string `yaml:"out_pcm"`       /* Playback sink for live mode. */
	PlaybackFifo string `yaml:"playback_fifo"` /* Far end reference comes in here. */
	OutFifo      string `yaml:"out_fifo"`      /* Cleaned audio goes out here. */

	Rate          int `yaml:"rate"`
	RecChannels   int `yaml:"rec_channels"`
	RefChannels   int `yaml:"ref_channels"`
	OutChannels   int `yaml:"out_channels"`
	BitsPerSample int `yaml:"bits_per_sample"`

	BufferSize       int `yaml:"buffer_size"`
	PlaybackFifoSize int `yaml:"playback_fifo_size"`

	FilterLength int  `yaml:"filter_length"`
	Bypass       bool `yaml:"bypass"` /* Copy capture straight through, no cancellation. */
}

func default_config() conf_t {
	return conf_t{
		RecPCM:           "default",
		OutPCM:           "default",
		PlaybackFifo:     "/tmp/ec.input",
		OutFifo:          "/tmp/ec.output",
		Rate:             16000,
		RecChannels:      2,
		RefChannels:      1,
		OutChannels:      2,
		BitsPerSample:    16,
		BufferSize:       1024 * 16,
		PlaybackFifoSize: 1024 * 4,
		FilterLength:     4096,
		Bypass:           false,
	}
}

/*------------------------------------------------------------------
 *
 * Name:	load_config
 *
 * Purpose:	Read a YAML configuration file over the defaults.
 *
 * Inputs:	path	- File to read.  Empty means defaults only.
 *
 * Returns:	Merged configuration, or an error for an unreadable or
 *		unusable file.
 *
 *----------------------------------------------------------------*/

func load_config(path string) (conf_t, error) {
	var config = default_config()

	if path != "" {
		var raw, err = os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &config); err != nil {
			return config, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := config.validate(); err != nil {
		return config, err
	}

	return config, nil
}

func (config *conf_t) validate() error {
	if config.Rate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.Rate)
	}
	if config.BitsPerSample != 16 {
		return fmt.Errorf("only 16 bit samples are supported, got %d", config.BitsPerSample)
	}
	if config.FilterLength <= 0 {
		return fmt.Errorf("filter length must be positive, got %d", config.FilterLength)
	}
	if config.RecChannels < 1 || config.OutChannels < 1 {
		return fmt.Errorf("channel counts must be at least 1")
	}
	if config.RefChannels != 1 {
		/* Only mono playback is supported, as in the original. */
		return fmt.Errorf("only mono playback is supported, got %d reference channels", config.RefChannels)
	}
	return nil
}

/*------------------------------------------------------------------
 *
 * Name:	frame_size
 *
 * Purpose:	Samples per 10ms frame at the configured rate.
 *
 *----------------------------------------------------------------*/

func (config *conf_t) frame_size() int {
	return config.Rate * 10 / 1000
}
