package ml

import (
	"errors"
	"fmt"
)

// KindGradientBoosting identifies GradientBoosting in artifacts.
const KindGradientBoosting = "gradient_boosting"

const maxBinsLimit = 1024

// BoostingParams controls GradientBoosting. Zero values take defaults.
type BoostingParams struct {
	NumTrees       int     `json:"num_trees" yaml:"num_trees"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxBins        int     `json:"max_bins" yaml:"max_bins"`
}

func DefaultBoostingParams() BoostingParams {
	return BoostingParams{
		NumTrees:       100,
		LearningRate:   0.1,
		MaxDepth:       6,
		MinSamplesLeaf: 20,
		MaxBins:        64,
	}
}

func (p BoostingParams) withDefaults() BoostingParams {
	d := DefaultBoostingParams()
	if p.NumTrees <= 0 {
		p.NumTrees = d.NumTrees
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.MaxBins < 2 {
		p.MaxBins = d.MaxBins
	}
	if p.MaxBins > maxBinsLimit {
		p.MaxBins = maxBinsLimit
	}
	return p
}

// GradientBoosting is a least-squares gradient-boosted ensemble of
// regression trees with histogram split search. Fitting is deterministic.
type GradientBoosting struct {
	Params BoostingParams   `json:"params"`
	Width  int              `json:"width"`
	Base   float64          `json:"base"`
	Trees  []RegressionTree `json:"trees"`
}

func NewGradientBoosting(params BoostingParams) *GradientBoosting {
	return &GradientBoosting{Params: params.withDefaults()}
}

func (g *GradientBoosting) Kind() string { return KindGradientBoosting }

func (g *GradientBoosting) Fit(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("features have no columns")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	for i, y := range targets {
		if !isFinite(y) {
			return fmt.Errorf("target %d is not finite", i)
		}
	}

	params := g.Params.withDefaults()
	base, _ := meanStd(targets)
	predictions := make([]float64, len(targets))
	for i := range predictions {
		predictions[i] = base
	}

	matrix := newBinnedMatrix(features, params.MaxBins)
	residuals := make([]float64, len(targets))
	grower := newTreeGrower(matrix, residuals, params)
	rows := make([]int, len(targets))
	trees := make([]RegressionTree, 0, params.NumTrees)
	for t := 0; t < params.NumTrees; t++ {
		for i := range residuals {
			residuals[i] = targets[i] - predictions[i]
			rows[i] = i
		}
		tree := grower.grow(rows)
		for i, row := range features {
			v, err := tree.predictRow(row)
			if err != nil {
				return fmt.Errorf("tree %d: %w", t, err)
			}
			predictions[i] += v
		}
		trees = append(trees, tree)
	}

	g.Params = params
	g.Width = width
	g.Base = base
	g.Trees = trees
	return nil
}

func (g *GradientBoosting) Predict(features [][]float64) ([]float64, error) {
	if len(g.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != g.Width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), g.Width)
		}
		v := g.Base
		for t := range g.Trees {
			leaf, err := g.Trees[t].predictRow(row)
			if err != nil {
				return nil, fmt.Errorf("tree %d: %w", t, err)
			}
			v += leaf
		}
		out[i] = v
	}
	return out, nil
}

func (g *GradientBoosting) validate(width int) error {
	if g.Width != width {
		return fmt.Errorf("regressor expects %d features, preprocessor produces %d", g.Width, width)
	}
	if len(g.Trees) == 0 {
		return ErrNotFitted
	}
	if !isFinite(g.Base) {
		return errors.New("non-finite base prediction")
	}
	for i := range g.Trees {
		if err := g.Trees[i].validate(width); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
