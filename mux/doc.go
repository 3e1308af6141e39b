// SPDX-License-Identifier: EPL-2.0

// Package mux writes several encoded streams into one container.
//
// A Writer consumes one flow.Channel per track. Each source is granted a
// single credit first; its format event adds the track to the Container.
// Only after every track has a format does the container start and data
// credit flow, since most containers cannot take new tracks once writing
// began. Samples are written under one lock per Writer. A sample the
// container rejects is logged, counted and dropped without failing the
// session. The container stops exactly once, after every source completed
// or when the Writer's context is cancelled.
//
//	w := mux.NewWriter(webm.NewContainer(f))
//	_ = w.RegisterTrack("audio", encoded)
//	_ = w.Start(ctx)
//	err := w.Wait(ctx)
package mux
