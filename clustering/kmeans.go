package clustering

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// KMeansConfig controls a k-means fit.
type KMeansConfig struct {
	K        int
	Restarts int
	MaxIter  int
	// RelTol is multiplied by the mean column variance to get the center-shift tolerance.
	RelTol float64
	Seed   int64
}

// KMeansResult is the best of all restarts.
type KMeansResult struct {
	Labels     []int
	Centers    [][]float64
	Inertia    float64
	Iterations int
}

// KMeans runs Lloyd's algorithm from Restarts k-means++ seedings and keeps
// the lowest-inertia solution. Restart r is seeded with Seed+r and ties go to
// the lowest r, so the result does not depend on goroutine scheduling.
func KMeans(X [][]float64, cfg KMeansConfig) (*KMeansResult, error) {
	n := len(X)
	if n == 0 {
		return nil, fmt.Errorf("kmeans: empty input")
	}
	if cfg.K < 1 || cfg.K > n {
		return nil, fmt.Errorf("kmeans: k=%d must be in [1, %d]", cfg.K, n)
	}
	if cfg.Restarts < 1 {
		cfg.Restarts = 1
	}
	if cfg.MaxIter < 1 {
		cfg.MaxIter = 300
	}
	if cfg.RelTol <= 0 {
		cfg.RelTol = 1e-4
	}
	tol := cfg.RelTol * meanVariance(X)

	results := make([]*KMeansResult, cfg.Restarts)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for r := 0; r < cfg.Restarts; r++ {
		r := r
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(r)))
			results[r] = lloyd(X, kmeansPlusPlus(X, cfg.K, rng), cfg.MaxIter, tol)
			return nil
		})
	}
	_ = g.Wait()

	best := results[0]
	for _, res := range results[1:] {
		if res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// kmeansPlusPlus is greedy k-means++ seeding with 2+ln(k) candidates per step.
func kmeansPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	trials := 2 + int(math.Log(float64(k)))

	centers := make([][]float64, 0, k)
	first := X[rng.Intn(n)]
	centers = append(centers, clonePoint(first))

	closest := make([]float64, n)
	potential := 0.0
	for i := range X {
		closest[i] = sqDist(X[i], first)
		potential += closest[i]
	}

	cum := make([]float64, n)
	for len(centers) < k {
		acc := 0.0
		for i, d := range closest {
			acc += d
			cum[i] = acc
		}

		bestCandidate := -1
		bestPotential := math.Inf(1)
		var bestDist []float64
		for t := 0; t < trials; t++ {
			target := rng.Float64() * potential
			idx := sort.Search(n, func(i int) bool { return cum[i] > target })
			if idx >= n {
				idx = n - 1
			}
			dist := make([]float64, n)
			pot := 0.0
			for i := range X {
				dist[i] = math.Min(closest[i], sqDist(X[i], X[idx]))
				pot += dist[i]
			}
			if pot < bestPotential {
				bestPotential = pot
				bestCandidate = idx
				bestDist = dist
			}
		}
		centers = append(centers, clonePoint(X[bestCandidate]))
		closest = bestDist
		potential = bestPotential
	}
	return centers
}

func lloyd(X [][]float64, centers [][]float64, maxIter int, tol float64) *KMeansResult {
	n, k := len(X), len(centers)
	d := len(X[0])
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iter := 0
	for iter = 1; iter <= maxIter; iter++ {
		changed := assign(X, centers, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, d)
		}
		for i, p := range X {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				next[c][j] += v
			}
		}
		for c := range next {
			if counts[c] > 0 {
				for j := range next[c] {
					next[c][j] /= float64(counts[c])
				}
			}
		}
		relocateEmpty(X, centers, labels, counts, next)

		shift := 0.0
		for c := range centers {
			shift += sqDist(centers[c], next[c])
		}
		centers = next

		if !changed || shift <= tol {
			break
		}
	}
	if iter > maxIter {
		iter = maxIter
	}
	assign(X, centers, labels)

	inertia := 0.0
	for i, p := range X {
		inertia += sqDist(p, centers[labels[i]])
	}
	return &KMeansResult{Labels: labels, Centers: centers, Inertia: inertia, Iterations: iter}
}

// assign labels each point with its nearest center (lowest index on ties).
func assign(X [][]float64, centers [][]float64, labels []int) bool {
	changed := false
	for i, p := range X {
		best, bestDist := 0, math.Inf(1)
		for c, center := range centers {
			if dd := sqDist(p, center); dd < bestDist {
				best, bestDist = c, dd
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// relocateEmpty moves each empty cluster's center onto the point farthest
// from its current center. next holds the cluster means and is kept consistent
// with the moved points.
func relocateEmpty(X [][]float64, centers [][]float64, labels, counts []int, next [][]float64) {
	var empty []int
	for c, cnt := range counts {
		if cnt == 0 {
			empty = append(empty, c)
		}
	}
	if len(empty) == 0 {
		return
	}
	order := make([]int, len(X))
	dist := make([]float64, len(X))
	for i, p := range X {
		order[i] = i
		dist[i] = sqDist(p, centers[labels[i]])
	}
	sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] > dist[order[b]] })
	for i, c := range empty {
		if i >= len(order) {
			break
		}
		p := order[i]
		old := labels[p]
		if counts[old] > 1 {
			// take p out of old's mean
			remaining := float64(counts[old] - 1)
			for j, v := range X[p] {
				next[old][j] = (next[old][j]*float64(counts[old]) - v) / remaining
			}
			counts[old]--
			labels[p] = c
			counts[c] = 1
		}
		next[c] = clonePoint(X[p])
	}
}

func meanVariance(X [][]float64) float64 {
	d := len(X[0])
	col := make([]float64, len(X))
	total := 0.0
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(d)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}

func clonePoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
