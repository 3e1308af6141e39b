// SPDX-License-Identifier: EPL-2.0

// Command mediapipe cuts, mixes and transcodes audio files.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("mediapipe failed")
		os.Exit(1)
	}
}
