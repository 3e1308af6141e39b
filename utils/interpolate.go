// SPDX-License-Identifier: EPL-2.0

package utils

// Window holds four consecutive samples of one channel, oldest first.
type Window [4]float32

// CatmullRom evaluates the Catmull-Rom spline through w at x in [0, 1],
// where 0 is w[1] and 1 is w[2].
func (w Window) CatmullRom(x float32) float32 {
	a := -0.5*w[0] + 1.5*w[1] - 1.5*w[2] + 0.5*w[3]
	b := w[0] - 2.5*w[1] + 2*w[2] - 0.5*w[3]
	c := 0.5 * (w[2] - w[0])

	return ((a*x+b)*x+c)*x + w[1]
}
