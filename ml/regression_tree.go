package ml

import (
	"errors"
	"fmt"
	"sort"
)

// RegressionTree is a binary tree stored as a flat node slice; node 0 is
// the root.
type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// predictRow walks left while features[FeatureIdx] <= Threshold.
func (t *RegressionTree) predictRow(features []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, ErrNotFitted
	}
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("tree contains a cycle")
}

// validate checks the structure of a tree restored from an artifact.
func (t *RegressionTree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, node := range t.Nodes {
		if !isFinite(node.Value) {
			return fmt.Errorf("node %d: non-finite value", i)
		}
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		// children always follow their parent, which rules out cycles
		if node.LeftChild <= i || node.LeftChild >= len(t.Nodes) ||
			node.RightChild <= i || node.RightChild >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children", i)
		}
		if !isFinite(node.Threshold) {
			return fmt.Errorf("node %d: non-finite threshold", i)
		}
	}
	return nil
}

// binnedMatrix is a column-major histogram view of a feature matrix. Row r
// of feature f falls in bin b when cuts[f][b-1] < x <= cuts[f][b].
type binnedMatrix struct {
	bins [][]uint16
	cuts [][]float64
}

func newBinnedMatrix(features [][]float64, maxBins int) *binnedMatrix {
	width := len(features[0])
	m := &binnedMatrix{
		bins: make([][]uint16, width),
		cuts: make([][]float64, width),
	}
	column := make([]float64, len(features))
	for f := 0; f < width; f++ {
		for r := range features {
			column[r] = features[r][f]
		}
		cuts := featureCuts(column, maxBins)
		bins := make([]uint16, len(features))
		for r, v := range column {
			bins[r] = uint16(sort.SearchFloat64s(cuts, v))
		}
		m.cuts[f] = cuts
		m.bins[f] = bins
	}
	return m
}

// featureCuts places split candidates between distinct values, thinned to
// at most maxBins-1 quantile cuts.
func featureCuts(values []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	unique := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}

	cuts := make([]float64, 0, min(len(unique)-1, maxBins-1))
	if len(unique) <= maxBins {
		for i := 1; i < len(unique); i++ {
			cuts = append(cuts, (unique[i-1]+unique[i])/2)
		}
		return cuts
	}
	for i := 1; i < maxBins; i++ {
		idx := i * len(unique) / maxBins
		cut := (unique[idx-1] + unique[idx]) / 2
		if len(cuts) == 0 || cut > cuts[len(cuts)-1] {
			cuts = append(cuts, cut)
		}
	}
	return cuts
}

// treeGrower fits one least-squares tree to the current residuals.
type treeGrower struct {
	matrix    *binnedMatrix
	residuals []float64
	maxDepth  int
	minLeaf   int
	shrinkage float64

	nodes  []TreeNode
	sums   []float64
	counts []int
}

func newTreeGrower(matrix *binnedMatrix, residuals []float64, params BoostingParams) *treeGrower {
	return &treeGrower{
		matrix:    matrix,
		residuals: residuals,
		maxDepth:  params.MaxDepth,
		minLeaf:   params.MinSamplesLeaf,
		shrinkage: params.LearningRate,
		sums:      make([]float64, params.MaxBins),
		counts:    make([]int, params.MaxBins),
	}
}

func (g *treeGrower) grow(rows []int) RegressionTree {
	g.nodes = nil
	g.buildNode(rows, 0)
	return RegressionTree{Nodes: g.nodes}
}

func (g *treeGrower) buildNode(rows []int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, TreeNode{})

	sum := 0.0
	for _, r := range rows {
		sum += g.residuals[r]
	}
	leaf := TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      g.shrinkage * sum / float64(len(rows)),
		IsLeaf:     true,
	}
	if depth >= g.maxDepth || len(rows) < 2*g.minLeaf {
		g.nodes[idx] = leaf
		return idx
	}

	feature, bin, ok := g.bestSplit(rows, sum)
	if !ok {
		g.nodes[idx] = leaf
		return idx
	}

	bins := g.matrix.bins[feature]
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if int(bins[r]) <= bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	leftIdx := g.buildNode(left, depth+1)
	rightIdx := g.buildNode(right, depth+1)
	g.nodes[idx] = TreeNode{
		FeatureIdx: feature,
		Threshold:  g.matrix.cuts[feature][bin],
		LeftChild:  leftIdx,
		RightChild: rightIdx,
		Value:      leaf.Value,
	}
	return idx
}

// bestSplit scans each feature histogram for the largest reduction in
// squared error that keeps minLeaf rows on both sides.
func (g *treeGrower) bestSplit(rows []int, total float64) (feature, bin int, ok bool) {
	n := float64(len(rows))
	parent := total * total / n
	bestGain := 1e-12
	feature, bin = -1, -1

	for f, cuts := range g.matrix.cuts {
		nBins := len(cuts) + 1
		if nBins < 2 {
			continue
		}
		sums := g.sums[:nBins]
		counts := g.counts[:nBins]
		for b := range sums {
			sums[b] = 0
			counts[b] = 0
		}
		bins := g.matrix.bins[f]
		for _, r := range rows {
			sums[bins[r]] += g.residuals[r]
			counts[bins[r]]++
		}

		leftSum, leftCount := 0.0, 0
		for b := 0; b < nBins-1; b++ {
			leftSum += sums[b]
			leftCount += counts[b]
			rightCount := len(rows) - leftCount
			if leftCount < g.minLeaf {
				continue
			}
			if rightCount < g.minLeaf {
				break
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(leftCount) + rightSum*rightSum/float64(rightCount) - parent
			if gain > bestGain {
				bestGain = gain
				feature, bin = f, b
			}
		}
	}
	return feature, bin, feature >= 0
}
