// Package clustering standardizes feature matrices, fits k-means, scores the
// result and recommends k from the elbow of the inertia curve.
package clustering

import (
	"github.com/freshgroup/dashboard/backend/apperr"
)

const (
	DefaultSeed     int64 = 42
	DefaultRestarts       = 10
	DefaultMaxIter        = 300
	DefaultKMin           = 2
	DefaultKMax           = 10
)

// Config fixes the randomness of every fit so results are reproducible.
type Config struct {
	Seed     int64
	Restarts int
	MaxIter  int
}

func DefaultConfig() Config {
	return Config{Seed: DefaultSeed, Restarts: DefaultRestarts, MaxIter: DefaultMaxIter}
}

// Engine is stateless between calls; scaling is fit fresh on every input.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.Restarts < 1 {
		cfg.Restarts = DefaultRestarts
	}
	if cfg.MaxIter < 1 {
		cfg.MaxIter = DefaultMaxIter
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) kmeansConfig(k int) KMeansConfig {
	return KMeansConfig{K: k, Restarts: e.cfg.Restarts, MaxIter: e.cfg.MaxIter, Seed: e.cfg.Seed}
}

// Result of a single clustering call. Centroids are in original feature units.
type Result struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
	Quality   Quality
}

// Cluster standardizes X, fits k-means and scores the labelling on the
// standardized space. An empty X yields an empty result.
func (e *Engine) Cluster(X [][]float64, k int) (*Result, error) {
	if k < 1 {
		return nil, apperr.Validation("invalid_parameter", "k must be at least 1, got %d", k)
	}
	if len(X) == 0 {
		return &Result{Labels: []int{}, Centroids: [][]float64{}}, nil
	}
	if k > len(X) {
		return nil, apperr.Validation("invalid_parameter", "k=%d exceeds the %d clusterable rows", k, len(X))
	}
	if err := checkMatrix(X); err != nil {
		return nil, err
	}

	scaler := FitScaler(X)
	Z := scaler.Transform(X)
	fit, err := KMeans(Z, e.kmeansConfig(k))
	if err != nil {
		return nil, apperr.Validation("invalid_parameter", "%v", err)
	}
	return &Result{
		Labels:    fit.Labels,
		Centroids: scaler.Inverse(fit.Centers),
		Inertia:   fit.Inertia,
		Quality:   Score(Z, fit.Labels),
	}, nil
}

// Elbow is the outcome of an elbow sweep plus the quality at the recommended k.
type Elbow struct {
	Recommendation
	Quality Quality
}

// Elbow sweeps k in [kmin, kmax] over the standardized X and scores the
// recommended k. It never fails; empty input yields the fallback k with no curve.
func (e *Engine) Elbow(X [][]float64, kmin, kmax int) Elbow {
	if len(X) == 0 || checkMatrix(X) != nil {
		return Elbow{Recommendation: Recommendation{K: clampInt(FallbackK(0), kmin, kmax), Source: KneeFallback}}
	}
	Z := FitScaler(X).Transform(X)
	rec := RecommendK(Z, kmin, kmax, e.kmeansConfig(0))
	out := Elbow{Recommendation: rec}
	if rec.K <= len(Z) {
		if fit, err := KMeans(Z, e.kmeansConfig(rec.K)); err == nil {
			out.Quality = Score(Z, fit.Labels)
		}
	}
	return out
}

func checkMatrix(X [][]float64) error {
	d := len(X[0])
	if d == 0 {
		return apperr.Validation("invalid_parameter", "feature matrix has no columns")
	}
	for i, row := range X {
		if len(row) != d {
			return apperr.Validation("invalid_parameter", "row %d has %d features, expected %d", i, len(row), d)
		}
	}
	return nil
}
