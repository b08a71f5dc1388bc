// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"math"

	"github.com/streamwarden/streamwarden/internal/models"
)

// chiSquareCritical10 is the chi-square critical value at df=10, p=0.01,
// used by the multivariate behavioral test.
const chiSquareCritical10 = 23.2093

// shannonEntropy computes the Shannon entropy (nats) of a discrete count
// distribution.
func shannonEntropy(counts map[models.EventType]int, total int) float64 {
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log(p)
	}
	return entropy
}

// mahalanobisSquared computes (x-mu)^T inv (x-mu) for a full inverse
// covariance matrix.
func mahalanobisSquared(x, mu [models.FeatureCount]float64, inv *[models.FeatureCount][models.FeatureCount]float64) float64 {
	var diff [models.FeatureCount]float64
	for i := range diff {
		diff[i] = x[i] - mu[i]
	}
	total := 0.0
	for i := 0; i < models.FeatureCount; i++ {
		row := 0.0
		for j := 0; j < models.FeatureCount; j++ {
			row += inv[i][j] * diff[j]
		}
		total += row * diff[i]
	}
	return total
}

// invertCovariance inverts a covariance matrix by Gauss-Jordan elimination
// with partial pivoting, after adding ridge regularization to guarantee the
// matrix is well conditioned. Returns false when the matrix is singular
// despite regularization.
func invertCovariance(cov [models.FeatureCount][models.FeatureCount]float64) (*[models.FeatureCount][models.FeatureCount]float64, bool) {
	const n = models.FeatureCount
	const ridge = 1e-6

	var a [n][2 * n]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a[i][j] = cov[i][j]
		}
		a[i][i] += ridge
		a[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		pv := a[col][col]
		for j := 0; j < 2*n; j++ {
			a[col][j] /= pv
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := a[row][col]
			if factor == 0 {
				continue
			}
			for j := 0; j < 2*n; j++ {
				a[row][j] -= factor * a[col][j]
			}
		}
	}

	var inv [n][n]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			inv[i][j] = a[i][n+j]
		}
	}
	return &inv, true
}

// chiSquarePValue returns the upper-tail p-value of a chi-square statistic
// with the given degrees of freedom, i.e. Q(df/2, x/2), the regularized
// upper incomplete gamma function.
func chiSquarePValue(x float64, df int) float64 {
	if x <= 0 || df <= 0 {
		return 1
	}
	return gammaQ(float64(df)/2, x/2)
}

// gammaQ computes the regularized upper incomplete gamma function Q(a, x)
// by series expansion for x < a+1 and continued fraction otherwise
// (Numerical Recipes, gammp/gammq).
func gammaQ(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return 1
	}
	if x == 0 {
		return 1
	}
	if x < a+1 {
		return 1 - gammaPSeries(a, x)
	}
	return gammaQContinued(a, x)
}

func gammaPSeries(a, x float64) float64 {
	const maxIter = 200
	const eps = 3e-14

	lg, _ := math.Lgamma(a)
	ap := a
	sum := 1.0 / a
	del := sum
	for i := 0; i < maxIter; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*eps {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

func gammaQContinued(a, x float64) float64 {
	const maxIter = 200
	const eps = 3e-14
	const tiny = 1e-300

	lg, _ := math.Lgamma(a)
	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d
	for i := 1; i <= maxIter; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lg) * h
}
