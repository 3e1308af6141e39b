// SPDX-License-Identifier: EPL-2.0

// Package metrics exposes pipeline counters to Prometheus.
//
// A nil *Set is valid and records nothing, so components can carry an
// optional Set without checking for it.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediapipe"

// Set groups every collector of one pipeline.
type Set struct {
	codecBytesFed    *prometheus.CounterVec
	codecEvents      *prometheus.CounterVec
	codecNoSlot      *prometheus.CounterVec
	codecTransitions *prometheus.CounterVec
	codecFailures    *prometheus.CounterVec

	mixerBytes    prometheus.Counter
	mixerChunks   prometheus.Counter
	mixerChannels prometheus.Gauge

	muxSamples       *prometheus.CounterVec
	muxWriteFailures *prometheus.CounterVec
	muxTracks        prometheus.Gauge
}

// New builds a Set and registers it on reg. A nil reg leaves the collectors
// unregistered, which is handy in tests.
func New(reg prometheus.Registerer) (*Set, error) {
	s := &Set{
		codecBytesFed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "bytes_fed_total",
			Help:      "Bytes handed to codec input slots",
		}, []string{"session"}),
		codecEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "events_drained_total",
			Help:      "Events drained from codec output slots",
		}, []string{"session", "kind"}),
		codecNoSlot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "slot_timeouts_total",
			Help:      "Polls that found no codec slot",
		}, []string{"session", "side"}),
		codecTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "state_transitions_total",
			Help:      "Codec session state transitions",
		}, []string{"session", "state"}),
		codecFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "failures_total",
			Help:      "Fatal codec session failures",
		}, []string{"session"}),
		mixerBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mixer",
			Name:      "bytes_mixed_total",
			Help:      "PCM bytes produced by the mixer",
		}),
		mixerChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mixer",
			Name:      "chunks_total",
			Help:      "Chunks emitted by the mixer",
		}),
		mixerChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mixer",
			Name:      "active_channels",
			Help:      "Mixer channels not yet exhausted",
		}),
		muxSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mux",
			Name:      "samples_written_total",
			Help:      "Samples written to the container",
		}, []string{"track"}),
		muxWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mux",
			Name:      "write_failures_total",
			Help:      "Samples dropped because the container rejected them",
		}, []string{"track"}),
		muxTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mux",
			Name:      "tracks",
			Help:      "Tracks added to the container",
		}),
	}

	if reg == nil {
		return s, nil
	}

	for _, c := range s.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return s, nil
}

func (s *Set) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.codecBytesFed, s.codecEvents, s.codecNoSlot, s.codecTransitions, s.codecFailures,
		s.mixerBytes, s.mixerChunks, s.mixerChannels,
		s.muxSamples, s.muxWriteFailures, s.muxTracks,
	}
}

func (s *Set) BytesFed(session string, n int) {
	if s == nil {
		return
	}
	s.codecBytesFed.WithLabelValues(session).Add(float64(n))
}

func (s *Set) EventDrained(session, kind string) {
	if s == nil {
		return
	}
	s.codecEvents.WithLabelValues(session, kind).Inc()
}

func (s *Set) NoSlot(session, side string) {
	if s == nil {
		return
	}
	s.codecNoSlot.WithLabelValues(session, side).Inc()
}

func (s *Set) Transition(session, state string) {
	if s == nil {
		return
	}
	s.codecTransitions.WithLabelValues(session, state).Inc()
}

func (s *Set) CodecFailure(session string) {
	if s == nil {
		return
	}
	s.codecFailures.WithLabelValues(session).Inc()
}

func (s *Set) Mixed(n int) {
	if s == nil {
		return
	}
	s.mixerBytes.Add(float64(n))
	s.mixerChunks.Inc()
}

func (s *Set) MixerChannels(n int) {
	if s == nil {
		return
	}
	s.mixerChannels.Set(float64(n))
}

func (s *Set) SampleWritten(track string) {
	if s == nil {
		return
	}
	s.muxSamples.WithLabelValues(track).Inc()
}

func (s *Set) WriteFailed(track string) {
	if s == nil {
		return
	}
	s.muxWriteFailures.WithLabelValues(track).Inc()
}

func (s *Set) TrackAdded() {
	if s == nil {
		return
	}
	s.muxTracks.Inc()
}
