package classifier

import (
	"sort"

	"cityflow/traffic-classifier/utils/randengine"
)

// Node is one CART node. Leaves have Feature == -1 and carry the class
// distribution of their training samples in Value.
type Node struct {
	Feature   int       `bson:"f"`
	Threshold float64   `bson:"t"`
	Left      int32     `bson:"l"`
	Right     int32     `bson:"r"`
	Value     []float64 `bson:"v,omitempty"`
}

func (n Node) leaf() bool { return n.Feature < 0 }

// Tree is a binary classification tree stored as a flat node slice with the
// root at index 0. Samples with x[Feature] <= Threshold go left.
type Tree struct {
	Nodes []Node `bson:"nodes"`
}

// leafValue returns the class distribution of the leaf row lands in.
func (t *Tree) leafValue(row []float64) []float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int32) int
	walk = func(i int32) int {
		n := t.Nodes[i]
		if n.leaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type treeParams struct {
	maxDepth        int // 0 = unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
}

type treeBuilder struct {
	x        [][]float64
	y        []int
	nClasses int
	params   treeParams
	rng      *randengine.Engine
	nodes    []Node
	features []int
}

func fitTree(x [][]float64, y []int, idx []int, nClasses int, params treeParams, rng *randengine.Engine) Tree {
	b := &treeBuilder{
		x:        x,
		y:        y,
		nClasses: nClasses,
		params:   params,
		rng:      rng,
		features: make([]int, len(x[0])),
	}
	for i := range b.features {
		b.features[i] = i
	}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) counts(idx []int) []float64 {
	c := make([]float64, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func (b *treeBuilder) build(idx []int, depth int) int32 {
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Feature: -1})

	counts := b.counts(idx)
	if b.stop(idx, counts, depth) {
		b.nodes[id].Value = normalize(counts)
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		b.nodes[id].Value = normalize(counts)
		return id
	}

	split := partition(idx, func(i int) bool { return b.x[i][feature] <= threshold })
	left := b.build(idx[:split], depth+1)
	right := b.build(idx[split:], depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: left, Right: right}
	return id
}

func (b *treeBuilder) stop(idx []int, counts []float64, depth int) bool {
	if b.params.maxDepth > 0 && depth >= b.params.maxDepth {
		return true
	}
	if len(idx) < b.params.minSamplesSplit || len(idx) < 2*b.params.minSamplesLeaf {
		return true
	}
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// bestSplit scans a random subset of features for the threshold with the
// lowest weighted Gini impurity. Like CART implementations usually do, it
// keeps drawing features past maxFeatures until a valid split turns up.
func (b *treeBuilder) bestSplit(idx []int, counts []float64) (int, float64, bool) {
	n := float64(len(idx))
	parent := weightedGini(counts, n)

	b.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})

	sorted := make([]int, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	bestFeature, bestThreshold, bestScore := -1, 0.0, parent
	for visited, f := range b.features {
		if visited >= b.params.maxFeatures && bestFeature >= 0 {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		for k := range left {
			left[k] = 0
			right[k] = counts[k]
		}
		minLeaf := b.params.minSamplesLeaf
		for k := 0; k < len(sorted)-1; k++ {
			cls := b.y[sorted[k]]
			left[cls]++
			right[cls]--

			v, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			nl := float64(k + 1)
			if k+1 < minLeaf || len(sorted)-k-1 < minLeaf {
				continue
			}
			score := weightedGini(left, nl) + weightedGini(right, n-nl)
			if score < bestScore-1e-12 {
				threshold := v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				bestFeature, bestThreshold, bestScore = f, threshold, score
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// weightedGini returns n * gini(counts).
func weightedGini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	sq := 0.0
	for _, c := range counts {
		sq += c * c
	}
	return n - sq/n
}

func normalize(counts []float64) []float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}

// partition reorders idx so elements satisfying pred come first and returns
// how many did.
func partition(idx []int, pred func(int) bool) int {
	i := 0
	for j := range idx {
		if pred(idx[j]) {
			idx[i], idx[j] = idx[j], idx[i]
			i++
		}
	}
	return i
}
