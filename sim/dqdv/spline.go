package dqdv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
)

const (
	// bisection budget on log λ
	maxBisections = 100
	// bracketing steps of bracketStep in log λ before giving up on the bracket
	maxBracketSteps = 60
	bracketStep     = 4.0
	// relative residual tolerance for accepting a λ
	rssTolerance = 1e-3
	// smallest log λ interval worth bisecting further
	minLogSpan = 1e-9
)

// smoothingSpline is a natural cubic smoothing spline in Reinsch form. Given
// strictly increasing knots xs and observations ys it finds g minimising
// ∫g''² subject to Σ(ys[i]−g(xs[i]))² ≤ s.
type smoothingSpline struct {
	xs, ys []float64
	h      []float64    // knot spacing, len n−1
	q      [][3]float64 // non-zero entries of column j of Q, rows j..j+2
	qty    []float64    // Qᵀy
}

func newSmoothingSpline(xs, ys []float64) *smoothingSpline {
	n := len(xs)
	sp := &smoothingSpline{xs: xs, ys: ys, h: make([]float64, n-1)}
	for i := range sp.h {
		sp.h[i] = xs[i+1] - xs[i]
	}
	m := n - 2
	sp.q = make([][3]float64, m)
	sp.qty = make([]float64, m)
	for j := 0; j < m; j++ {
		a, b := 1/sp.h[j], 1/sp.h[j+1]
		sp.q[j] = [3]float64{a, -a - b, b}
		sp.qty[j] = a*ys[j] + (-a-b)*ys[j+1] + b*ys[j+2]
	}
	return sp
}

// fit returns the interpolant of the smoothing spline for smoothing factor s.
func (sp *smoothingSpline) fit(s float64) (*interp.PiecewiseCubic, error) {
	if s > 0 && s >= sp.linearRSS() {
		return sp.line(), nil
	}
	lambda := 0.0
	if s > 0 {
		var err error
		if lambda, err = sp.findLambda(s); err != nil {
			return nil, err
		}
	}
	g, gamma, err := sp.solve(lambda)
	if err != nil {
		return nil, err
	}
	return sp.hermite(g, gamma), nil
}

// solve returns the fitted values g and the interior second derivatives γ
// for penalty λ, from (R + λQᵀQ)γ = Qᵀy and g = y − λQγ.
func (sp *smoothingSpline) solve(lambda float64) (g, gamma []float64, err error) {
	m := len(sp.qty)
	k := min(2, m-1)
	a := mat.NewSymBandDense(m, k, nil)
	for i := 0; i < m; i++ {
		for d := 0; d <= k && i+d < m; d++ {
			a.SetSymBand(i, i+d, sp.r(i, i+d)+lambda*sp.qtq(i, i+d))
		}
	}

	tri, ok := lapack64.Pbtrf(a.RawSymBand())
	if !ok {
		return nil, nil, fmt.Errorf("smoothing spline: system not positive definite (λ=%g)", lambda)
	}
	gamma = make([]float64, m)
	copy(gamma, sp.qty)
	lapack64.Pbtrs(tri, blas64.General{Rows: m, Cols: 1, Data: gamma, Stride: 1})

	g = make([]float64, len(sp.ys))
	copy(g, sp.ys)
	if lambda > 0 {
		for j, col := range sp.q {
			for r, v := range col {
				g[j+r] -= lambda * v * gamma[j]
			}
		}
	}
	return g, gamma, nil
}

// r is element (i, j), j ≥ i, of the tridiagonal matrix R.
func (sp *smoothingSpline) r(i, j int) float64 {
	switch j - i {
	case 0:
		return (sp.h[i] + sp.h[i+1]) / 3
	case 1:
		return sp.h[i+1] / 6
	}
	return 0
}

// qtq is element (i, j), j ≥ i, of QᵀQ.
func (sp *smoothingSpline) qtq(i, j int) float64 {
	d := j - i
	if d > 2 {
		return 0
	}
	sum := 0.0
	// column i covers rows i..i+2, column j covers rows j..j+2
	for r := j; r <= i+2; r++ {
		sum += sp.q[i][r-i] * sp.q[j][r-j]
	}
	return sum
}

func (sp *smoothingSpline) rss(lambda float64) (float64, error) {
	g, _, err := sp.solve(lambda)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for i, y := range sp.ys {
		d := y - g[i]
		sum += d * d
	}
	return sum, nil
}

// findLambda bisects on log λ until the residual sum of squares is within
// rssTolerance of s. The residual grows monotonically with λ, from 0
// (interpolation) towards the least-squares line residual.
func (sp *smoothingSpline) findLambda(s float64) (float64, error) {
	meanH := (sp.xs[len(sp.xs)-1] - sp.xs[0]) / float64(len(sp.h))
	start := 3 * math.Log(meanH)

	v, err := sp.rss(math.Exp(start))
	if err != nil {
		return 0, err
	}
	if sp.accept(v, s) {
		return math.Exp(start), nil
	}

	// walk away from start until the residual crosses s
	lo, hi := start, start
	step := bracketStep
	if v > s {
		step = -bracketStep
	}
	for i := 0; i < maxBracketSteps; i++ {
		next := start + float64(i+1)*step
		if v, err = sp.rss(math.Exp(next)); err != nil {
			return 0, err
		}
		if sp.accept(v, s) {
			return math.Exp(next), nil
		}
		if step > 0 {
			lo, hi = hi, next
		} else {
			lo, hi = next, lo
		}
		if (step > 0) == (v > s) {
			break
		}
	}

	for i := 0; i < maxBisections && hi-lo > minLogSpan; i++ {
		mid := (lo + hi) / 2
		if v, err = sp.rss(math.Exp(mid)); err != nil {
			return 0, err
		}
		if sp.accept(v, s) {
			return math.Exp(mid), nil
		}
		if v < s {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Exp((lo + hi) / 2), nil
}

func (sp *smoothingSpline) accept(rss, s float64) bool {
	return math.Abs(rss-s) <= rssTolerance*s
}

// linearFit returns the least-squares line through the knots.
func (sp *smoothingSpline) linearFit() (intercept, slope float64) {
	n := float64(len(sp.xs))
	var sx, sy float64
	for i, x := range sp.xs {
		sx += x
		sy += sp.ys[i]
	}
	mx, my := sx/n, sy/n
	var sxx, sxy float64
	for i, x := range sp.xs {
		dx := x - mx
		sxx += dx * dx
		sxy += dx * (sp.ys[i] - my)
	}
	slope = sxy / sxx
	return my - slope*mx, slope
}

func (sp *smoothingSpline) linearRSS() float64 {
	c, b := sp.linearFit()
	sum := 0.0
	for i, x := range sp.xs {
		d := sp.ys[i] - (c + b*x)
		sum += d * d
	}
	return sum
}

func (sp *smoothingSpline) line() *interp.PiecewiseCubic {
	c, b := sp.linearFit()
	n := len(sp.xs)
	g := make([]float64, n)
	dg := make([]float64, n)
	for i, x := range sp.xs {
		g[i] = c + b*x
		dg[i] = b
	}
	var pc interp.PiecewiseCubic
	pc.FitWithDerivatives(sp.xs, g, dg)
	return &pc
}

// hermite converts knot values and interior second derivatives into the
// equivalent piecewise cubic. Natural end conditions fix γ to zero at both
// ends.
func (sp *smoothingSpline) hermite(g, gamma []float64) *interp.PiecewiseCubic {
	n := len(g)
	full := make([]float64, n)
	copy(full[1:n-1], gamma)

	dg := make([]float64, n)
	for i := 0; i < n-1; i++ {
		h := sp.h[i]
		dg[i] = (g[i+1]-g[i])/h - h*(2*full[i]+full[i+1])/6
	}
	h := sp.h[n-2]
	dg[n-1] = (g[n-1]-g[n-2])/h + h*(full[n-2]+2*full[n-1])/6

	var pc interp.PiecewiseCubic
	pc.FitWithDerivatives(sp.xs, g, dg)
	return &pc
}
