package classifier

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"cityflow/traffic-classifier/utils/randengine"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

type ForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 = sqrt(width)
	Seed            uint64
	Workers         int // 0 = GOMAXPROCS
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Forest is a bagged ensemble of classification trees. Prediction averages
// the leaf class distributions of every tree.
type Forest struct {
	NFeatures int    `bson:"n_features"`
	NClasses  int    `bson:"n_classes"`
	Trees     []Tree `bson:"trees"`
}

// FitForest grows cfg.Trees trees on bootstrap samples of x. Each tree draws
// from its own engine derived from cfg.Seed, so the result does not depend
// on goroutine scheduling.
func FitForest(ctx context.Context, x *mat.Dense, y []int, nClasses int, cfg ForestConfig) (*Forest, error) {
	rows, width := x.Dims()
	if rows == 0 {
		return nil, ErrEmptyDataset
	}
	if len(y) != rows {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, rows, len(y))
	}
	for _, label := range y {
		if label < 0 || label >= nClasses {
			return nil, fmt.Errorf("label %d outside [0, %d)", label, nClasses)
		}
	}
	if cfg.Trees <= 0 {
		return nil, fmt.Errorf("forest needs at least one tree, got %d", cfg.Trees)
	}

	params := treeParams{
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: max(cfg.MinSamplesSplit, 2),
		minSamplesLeaf:  max(cfg.MinSamplesLeaf, 1),
		maxFeatures:     cfg.MaxFeatures,
	}
	if params.maxFeatures <= 0 || params.maxFeatures > width {
		params.maxFeatures = max(1, int(math.Sqrt(float64(width))))
	}

	data := make([][]float64, rows)
	for i := range data {
		data[i] = x.RawRowView(i)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	root := randengine.New(cfg.Seed)
	trees := make([]Tree, cfg.Trees)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range trees {
		rng := root.Child(t)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			idx := make([]int, rows)
			for i := range idx {
				idx[i] = rng.Intn(rows)
			}
			trees[t] = fitTree(data, y, idx, nClasses, params, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Forest{NFeatures: width, NClasses: nClasses, Trees: trees}, nil
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrShapeMismatch)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrShapeMismatch, ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if len(n.Value) != f.NClasses {
					return fmt.Errorf("%w: tree %d leaf %d has %d classes, want %d", ErrShapeMismatch, ti, ni, len(n.Value), f.NClasses)
				}
				continue
			}
			if n.Feature >= f.NFeatures || int(n.Left) <= ni || int(n.Right) <= ni ||
				int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes) {
				return fmt.Errorf("%w: tree %d node %d is malformed", ErrShapeMismatch, ti, ni)
			}
		}
	}
	return nil
}

// PredictProba returns the averaged class distribution for one encoded row.
func (f *Forest) PredictProba(row []float64) []float64 {
	proba := make([]float64, f.NClasses)
	for i := range f.Trees {
		for k, v := range f.Trees[i].leafValue(row) {
			proba[k] += v
		}
	}
	n := float64(len(f.Trees))
	for k := range proba {
		proba[k] /= n
	}
	return proba
}

// Predict returns the most probable class; ties go to the lower class.
func (f *Forest) Predict(row []float64) int {
	return argmax(f.PredictProba(row))
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
