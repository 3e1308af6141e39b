// SPDX-License-Identifier: EPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ik5/mediapipe"
)

const envPrefix = "MEDIAPIPE"

// settings is what the root command resolved before a job runs.
type settings struct {
	v   *viper.Viper
	cfg mediapipe.Config
}

func newRootCommand() *cobra.Command {
	s := &settings{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "mediapipe",
		Short: "Streaming audio pipeline",
		Long: `mediapipe decodes audio files, runs them through cut, envelope and mix stages
and writes the result into a WAV, WebM or fragmented MP4 container.

Every flag can also be set in the config file or as MEDIAPIPE_<FLAG>, with dashes
and dots turned into underscores (MEDIAPIPE_SAMPLE_RATE, MEDIAPIPE_CUT_FROM).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.load(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.String("config", "", "config file (default ./mediapipe.yaml or $HOME/.mediapipe/mediapipe.yaml)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text or json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.StringP("output", "o", "", "output file")
	f.String("container", "", "wav, webm or mp4 (default from the output extension)")
	f.Int("sample-rate", 0, "output sample rate in Hz (default 44100)")
	f.Bool("mono", true, "downmix to one channel")
	f.String("downmix", "", "downmix policy: average or left")
	f.Int("chunk-size", 0, "compressed read size in bytes")
	f.Duration("fragment", 0, "fragment duration of mp4 output")
	f.Duration("close-timeout", 0, "how long to wait for a webm writer to flush")

	f.Bool("envelope.enabled", false, "mute an interval of the output")
	f.Duration("envelope.mute-start", 0, "start of the muted interval")
	f.Duration("envelope.mute-end", 0, "end of the muted interval")
	f.Duration("envelope.window", 0, "ramp length on either side of the muted interval")
	f.Float64("envelope.level", 0, "gain inside the muted interval, 0..1")
	f.String("envelope.tail", "", "after the mute: ramp back up or hold")

	cmd.AddCommand(newTranscodeCommand(s), newCutCommand(s), newMixCommand(s))
	return cmd
}

// load merges defaults, config file, environment and flags, in increasing
// priority, and sets up logging.
func (s *settings) load(cmd *cobra.Command) error {
	v := s.v
	def := mediapipe.DefaultConfig()
	v.SetDefault("sample-rate", def.SampleRate)
	v.SetDefault("mono", def.Mono)
	v.SetDefault("downmix", def.Downmix)
	v.SetDefault("envelope.window", def.Envelope.Window)
	v.SetDefault("envelope.tail", def.Envelope.Tail)
	v.SetDefault("mix.max-queued", def.Mix.MaxQueued)
	v.SetDefault("mix.silence-fill", def.Mix.SilenceFill)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("mediapipe")
		v.AddConfigPath(".")
		v.AddConfigPath(os.ExpandEnv("$HOME/.mediapipe"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := setupLogging(v.GetString("log-level"), v.GetString("log-format")); err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logrus.WithField("file", used).Debug("config loaded")
	}

	s.cfg = def
	if err := v.Unmarshal(&s.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
