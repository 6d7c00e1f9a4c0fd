package clustering

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Quality holds internal validation scores for a labelling. Computed is false
// when the labelling was degenerate and every score was zeroed.
type Quality struct {
	Silhouette       float64 `json:"silhouette"`
	DaviesBouldin    float64 `json:"davies_bouldin"`
	CalinskiHarabasz float64 `json:"calinski_harabasz"`
	Computed         bool    `json:"computed"`
}

// Score computes all three metrics. Any failure degrades all of them to zero.
func Score(X [][]float64, labels []int) Quality {
	groups, err := groupLabels(X, labels)
	if err != nil {
		return Quality{}
	}
	sil, err := silhouette(X, groups)
	if err != nil {
		return Quality{}
	}
	db, err := daviesBouldin(X, groups)
	if err != nil {
		return Quality{}
	}
	ch, err := calinskiHarabasz(X, groups)
	if err != nil {
		return Quality{}
	}
	return Quality{Silhouette: sil, DaviesBouldin: db, CalinskiHarabasz: ch, Computed: true}
}

type grouping struct {
	labels  []int // dense 0..k-1
	members [][]int
}

func groupLabels(X [][]float64, labels []int) (*grouping, error) {
	n := len(X)
	if n != len(labels) {
		return nil, fmt.Errorf("labels length %d does not match %d samples", len(labels), n)
	}
	dense := make(map[int]int)
	g := &grouping{labels: make([]int, n)}
	for i, l := range labels {
		id, ok := dense[l]
		if !ok {
			id = len(dense)
			dense[l] = id
			g.members = append(g.members, nil)
		}
		g.labels[i] = id
		g.members[id] = append(g.members[id], i)
	}
	if k := len(g.members); k < 2 || k > n-1 {
		return nil, fmt.Errorf("number of labels is %d; valid values are 2 to n_samples - 1", k)
	}
	return g, nil
}

func silhouette(X [][]float64, g *grouping) (float64, error) {
	n := len(X)
	total := 0.0
	for i := range X {
		own := g.labels[i]
		if len(g.members[own]) == 1 {
			continue
		}
		sums := make([]float64, len(g.members))
		for j := range X {
			if i != j {
				sums[g.labels[j]] += floats.Distance(X[i], X[j], 2)
			}
		}
		a := sums[own] / float64(len(g.members[own])-1)
		b := math.Inf(1)
		for c, s := range sums {
			if c != own {
				b = math.Min(b, s/float64(len(g.members[c])))
			}
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	score := total / float64(n)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("silhouette is not finite")
	}
	return score, nil
}

func centroidsOf(X [][]float64, g *grouping) [][]float64 {
	d := len(X[0])
	out := make([][]float64, len(g.members))
	for c, idx := range g.members {
		center := make([]float64, d)
		for _, i := range idx {
			floats.Add(center, X[i])
		}
		floats.Scale(1/float64(len(idx)), center)
		out[c] = center
	}
	return out
}

func daviesBouldin(X [][]float64, g *grouping) (float64, error) {
	centers := centroidsOf(X, g)
	k := len(centers)
	intra := make([]float64, k)
	for c, idx := range g.members {
		for _, i := range idx {
			intra[c] += floats.Distance(X[i], centers[c], 2)
		}
		intra[c] /= float64(len(idx))
	}

	allIntraZero, allSepZero := true, true
	for _, s := range intra {
		if s > 1e-12 {
			allIntraZero = false
		}
	}
	sep := make([][]float64, k)
	for a := range centers {
		sep[a] = make([]float64, k)
		for b := range centers {
			sep[a][b] = floats.Distance(centers[a], centers[b], 2)
			if a != b && sep[a][b] > 1e-12 {
				allSepZero = false
			}
		}
	}
	if allIntraZero || allSepZero {
		return 0, nil
	}

	total := 0.0
	for a := 0; a < k; a++ {
		worst := 0.0
		for b := 0; b < k; b++ {
			if a == b {
				continue
			}
			r := math.Inf(1)
			if sep[a][b] > 0 {
				r = (intra[a] + intra[b]) / sep[a][b]
			}
			worst = math.Max(worst, r)
		}
		total += worst
	}
	score := total / float64(k)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("davies-bouldin is not finite")
	}
	return score, nil
}

func calinskiHarabasz(X [][]float64, g *grouping) (float64, error) {
	n, k := len(X), len(g.members)
	centers := centroidsOf(X, g)
	mean := make([]float64, len(X[0]))
	for _, p := range X {
		floats.Add(mean, p)
	}
	floats.Scale(1/float64(n), mean)

	between, within := 0.0, 0.0
	for c, idx := range g.members {
		between += float64(len(idx)) * sqDist(centers[c], mean)
		for _, i := range idx {
			within += sqDist(X[i], centers[c])
		}
	}
	if within == 0 {
		return 1.0, nil
	}
	score := between * float64(n-k) / (within * float64(k-1))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("calinski-harabasz is not finite")
	}
	return score, nil
}
