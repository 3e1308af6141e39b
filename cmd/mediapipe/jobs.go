// SPDX-License-Identifier: EPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ik5/mediapipe"
)

type job func(context.Context, mediapipe.Config, ...mediapipe.Option) (*mediapipe.Result, error)

func newTranscodeCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "transcode INPUT...",
		Short: "Write every input as its own track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.run(cmd, args, mediapipe.Transcode)
		},
	}
}

func newCutCommand(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cut INPUT",
		Short: "Keep an interval of one input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.run(cmd, args, mediapipe.Cut)
		},
	}
	cmd.Flags().Duration("cut.from", 0, "start of the kept interval")
	cmd.Flags().Duration("cut.to", 0, "end of the kept interval")
	return cmd
}

func newMixCommand(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mix INPUT...",
		Short: "Sum every input into one mono track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.run(cmd, args, mediapipe.Mix)
		},
	}
	cmd.Flags().DurationSlice("mix.offsets", nil, "start offset of each input, in input order")
	cmd.Flags().Bool("mix.silence-fill", true, "emit silence while every input starts later")
	cmd.Flags().Int("mix.max-queued", 0, "buffers queued per input before backpressure")
	return cmd
}

func (s *settings) run(cmd *cobra.Command, args []string, fn job) error {
	cfg := s.cfg
	cfg.Inputs = args

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []mediapipe.Option
	if addr := s.v.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, mediapipe.WithRegisterer(reg))

		srv := serveMetrics(addr, reg)
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	res, err := fn(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	for _, t := range res.Tracks {
		logrus.WithFields(logrus.Fields{
			"track":   t.Name,
			"samples": t.Written,
			"failed":  t.Failed,
			"end":     time.Duration(t.LastUs) * time.Microsecond,
		}).Info("track written")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d track(s) in %s (%s)\n",
		res.Output, len(res.Tracks), res.Container, res.Elapsed.Round(time.Millisecond))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Warn("metrics server stopped")
		}
	}()
	logrus.WithField("addr", addr).Info("serving metrics")
	return srv
}
