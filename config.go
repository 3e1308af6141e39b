// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/media"
)

// Container names accepted in Config.Container.
const (
	ContainerWAV  = "wav"
	ContainerWebM = "webm"
	ContainerMP4  = "mp4"
)

// Config describes one job. The mapstructure tags are the keys of the CLI
// config file and of the MEDIAPIPE_* environment variables.
type Config struct {
	Inputs    []string `mapstructure:"inputs"`
	Output    string   `mapstructure:"output"`
	Container string   `mapstructure:"container"`

	SampleRate int    `mapstructure:"sample-rate"`
	Mono       bool   `mapstructure:"mono"`
	Downmix    string `mapstructure:"downmix"`
	ChunkSize  int    `mapstructure:"chunk-size"`

	Cut      CutConfig      `mapstructure:"cut"`
	Envelope EnvelopeConfig `mapstructure:"envelope"`
	Mix      MixConfig      `mapstructure:"mix"`

	Fragment     time.Duration `mapstructure:"fragment"`
	CloseTimeout time.Duration `mapstructure:"close-timeout"`
}

type CutConfig struct {
	From time.Duration `mapstructure:"from"`
	To   time.Duration `mapstructure:"to"`
}

// EnvelopeConfig mutes an interval of the output. It is skipped unless
// Enabled.
type EnvelopeConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MuteStart time.Duration `mapstructure:"mute-start"`
	MuteEnd   time.Duration `mapstructure:"mute-end"`
	Window    time.Duration `mapstructure:"window"`
	Level     float64       `mapstructure:"level"`
	Tail      string        `mapstructure:"tail"`
}

type MixConfig struct {
	// Offsets delays input i by Offsets[i]. Missing entries start at zero.
	Offsets     []time.Duration `mapstructure:"offsets"`
	SilenceFill bool            `mapstructure:"silence-fill"`
	MaxQueued   int             `mapstructure:"max-queued"`
}

// DefaultConfig is 44.1kHz mono with averaging downmix.
func DefaultConfig() Config {
	return Config{
		SampleRate: media.DefaultClock.SampleRate,
		Mono:       true,
		Downmix:    audio.DownmixAverage.String(),
		Envelope: EnvelopeConfig{
			Window: 100 * time.Millisecond,
			Tail:   audio.TailRamp.String(),
		},
		Mix: MixConfig{
			MaxQueued:   audio.DefaultMixerMaxQueued,
			SilenceFill: true,
		},
	}
}

// Validate checks the settings every job shares.
func (c Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: no input", media.ErrConfiguration)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: no output", media.ErrConfiguration)
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("%w: sample rate %d", media.ErrConfiguration, c.SampleRate)
	}
	if _, err := audio.ParseDownmixPolicy(c.Downmix); err != nil {
		return err
	}
	if _, err := c.ContainerName(); err != nil {
		return err
	}
	if c.Envelope.Enabled {
		if _, err := c.envelope(); err != nil {
			return err
		}
	}
	return nil
}

// ContainerName is Container, or the type implied by the output extension.
func (c Config) ContainerName() (string, error) {
	name := strings.ToLower(c.Container)
	if name == "" {
		switch strings.ToLower(filepath.Ext(c.Output)) {
		case ".wav", ".wave":
			name = ContainerWAV
		case ".webm", ".mka", ".mkv":
			name = ContainerWebM
		case ".mp4", ".m4a":
			name = ContainerMP4
		}
	}

	switch name {
	case ContainerWAV, ContainerWebM, ContainerMP4:
		return name, nil
	case "":
		return "", fmt.Errorf("%w: cannot tell container of %q", media.ErrConfiguration, c.Output)
	}
	return "", fmt.Errorf("%w: unknown container %q", media.ErrConfiguration, name)
}

func (c Config) decodeOptions() DecodeOptions {
	policy, _ := audio.ParseDownmixPolicy(c.Downmix)
	return DecodeOptions{
		TargetRate: c.SampleRate,
		Mono:       c.Mono,
		Downmix:    policy,
		ChunkSize:  c.ChunkSize,
	}
}

func (c Config) envelope() (audio.EnvelopeConfig, error) {
	tail, err := audio.ParseTail(c.Envelope.Tail)
	if err != nil {
		return audio.EnvelopeConfig{}, err
	}
	return audio.EnvelopeConfig{
		MuteStartUs: c.Envelope.MuteStart.Microseconds(),
		MuteEndUs:   c.Envelope.MuteEnd.Microseconds(),
		WindowUs:    c.Envelope.Window.Microseconds(),
		MuteLevel:   c.Envelope.Level,
		Tail:        tail,
	}, nil
}
