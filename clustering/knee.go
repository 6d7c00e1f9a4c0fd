package clustering

import (
	"math"
)

// KneeSource tells whether a recommended k came from knee detection or the fallback rule.
type KneeSource int

const (
	KneeDetected KneeSource = iota
	KneeFallback
)

func (s KneeSource) String() string {
	if s == KneeDetected {
		return "detected"
	}
	return "fallback"
}

// Recommendation is the outcome of an elbow sweep.
type Recommendation struct {
	K      int
	Source KneeSource
	Ks     []int
	WCSS   []float64
}

// WCSSCurve fits k-means for every k in [kmin, min(kmax, n)] and returns the inertias.
func WCSSCurve(Z [][]float64, kmin, kmax int, cfg KMeansConfig) ([]int, []float64) {
	if kmax > len(Z) {
		kmax = len(Z)
	}
	var ks []int
	var wcss []float64
	for k := kmin; k <= kmax; k++ {
		c := cfg
		c.K = k
		res, err := KMeans(Z, c)
		if err != nil {
			break
		}
		ks = append(ks, k)
		wcss = append(wcss, res.Inertia)
	}
	return ks, wcss
}

// RecommendK sweeps k over a standardized matrix and picks the elbow.
// Without a detectable knee it uses clamp(len(curve)/2, 2, 5). The result is
// always within [kmin, kmax].
func RecommendK(Z [][]float64, kmin, kmax int, cfg KMeansConfig) Recommendation {
	ks, wcss := WCSSCurve(Z, kmin, kmax, cfg)
	rec := Recommendation{Ks: ks, WCSS: wcss}
	if k, ok := DetectKnee(ks, wcss); ok {
		rec.K, rec.Source = k, KneeDetected
	} else {
		rec.K, rec.Source = FallbackK(len(wcss)), KneeFallback
	}
	rec.K = clampInt(rec.K, kmin, kmax)
	return rec
}

// FallbackK is the k used when the curve has no knee.
func FallbackK(curveLen int) int {
	return clampInt(curveLen/2, 2, 5)
}

// DetectKnee finds the knee of a convex, decreasing curve using the Kneedle
// algorithm with sensitivity 1.
func DetectKnee(xs []int, ys []float64) (int, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}
	xNorm := normalize(intsToFloats(xs))
	yNorm := normalize(ys)
	if xNorm == nil || yNorm == nil {
		return 0, false
	}
	// convex decreasing: flip so the curve rises to the knee
	yMax := yNorm[0]
	for _, v := range yNorm {
		yMax = math.Max(yMax, v)
	}
	diff := make([]float64, n)
	for i := range yNorm {
		diff[i] = (yMax - yNorm[i]) - xNorm[i]
	}

	maxima := extrema(diff, func(a, b float64) bool { return a >= b })
	minima := extrema(diff, func(a, b float64) bool { return a <= b })
	if len(maxima) == 0 {
		return 0, false
	}

	step := 0.0
	for i := 1; i < n; i++ {
		step += xNorm[i] - xNorm[i-1]
	}
	step = math.Abs(step / float64(n-1))

	isMax := make(map[int]int, len(maxima))
	for m, i := range maxima {
		isMax[i] = m
	}
	isMin := make(map[int]bool, len(minima))
	for _, i := range minima {
		isMin[i] = true
	}

	threshold := 0.0
	thresholdIndex := 0
	for i := maxima[0]; i < n; i++ {
		if xNorm[i] == 1.0 {
			break
		}
		if _, ok := isMax[i]; ok {
			threshold = diff[i] - step
			thresholdIndex = i
		}
		if isMin[i] {
			threshold = 0
		}
		if j := i + 1; j < n && diff[j] < threshold {
			return xs[thresholdIndex], true
		}
	}
	return 0, false
}

// extrema returns indices i where cmp(y[i], neighbour) holds for both
// neighbours, clipping at the edges.
func extrema(y []float64, cmp func(a, b float64) bool) []int {
	var out []int
	last := len(y) - 1
	for i := range y {
		prev, next := i-1, i+1
		if prev < 0 {
			prev = 0
		}
		if next > last {
			next = last
		}
		if cmp(y[i], y[prev]) && cmp(y[i], y[next]) {
			out = append(out, i)
		}
	}
	return out
}

func normalize(v []float64) []float64 {
	lo, hi := v[0], v[0]
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi-lo == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

func intsToFloats(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
