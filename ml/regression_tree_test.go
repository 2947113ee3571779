package ml

import (
	"math"
	"testing"
)

func TestGradientBoostingFitPredict(t *testing.T) {
	features := make([][]float64, 0)
	targets := make([]float64, 0)
	for i := 0; i < 60; i++ {
		x := float64(i)
		features = append(features, []float64{x, float64(i % 2)})
		y := 1.0
		if x >= 30 {
			y = 5
		}
		targets = append(targets, y+float64(i%2))
	}

	model := NewGradientBoosting(BoostingParams{NumTrees: 50, LearningRate: 0.3, MaxDepth: 3, MinSamplesLeaf: 2})
	if err := model.Fit(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := model.Predict([][]float64{{5, 0}, {45, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got[0]-1) > 0.05 {
		t.Fatalf("expected ~1, got %v", got[0])
	}
	if math.Abs(got[1]-6) > 0.05 {
		t.Fatalf("expected ~6, got %v", got[1])
	}
	if err := model.validate(2); err != nil {
		t.Fatalf("fitted model must validate: %v", err)
	}
}

func TestGradientBoostingIsDeterministic(t *testing.T) {
	features := [][]float64{{1, 0}, {2, 1}, {3, 0}, {4, 1}, {5, 0}, {6, 1}}
	targets := []float64{1, 2, 2, 3, 5, 8}
	params := BoostingParams{NumTrees: 10, MaxDepth: 2, MinSamplesLeaf: 1}

	a := NewGradientBoosting(params)
	b := NewGradientBoosting(params)
	if err := a.Fit(features, targets); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(features, targets); err != nil {
		t.Fatal(err)
	}
	pa, _ := a.Predict(features)
	pb, _ := b.Predict(features)
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("prediction %d differs: %v vs %v", i, pa[i], pb[i])
		}
	}
}

func TestGradientBoostingErrors(t *testing.T) {
	model := NewGradientBoosting(BoostingParams{})
	if _, err := model.Predict([][]float64{{1}}); err != ErrNotFitted {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if err := model.Fit(nil, nil); err == nil {
		t.Fatal("expected error for empty data")
	}
	if err := model.Fit([][]float64{{1}, {2}}, []float64{1}); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if err := model.Fit([][]float64{{1}, {2, 3}}, []float64{1, 2}); err == nil {
		t.Fatal("expected ragged row error")
	}
	if err := model.Fit([][]float64{{1}, {2}}, []float64{1, math.NaN()}); err == nil {
		t.Fatal("expected non-finite target error")
	}
}

func TestFeatureCuts(t *testing.T) {
	if cuts := featureCuts([]float64{3, 3, 3}, 8); len(cuts) != 0 {
		t.Fatalf("constant feature has no cuts, got %v", cuts)
	}
	cuts := featureCuts([]float64{0, 1, 0, 1}, 8)
	if len(cuts) != 1 || cuts[0] != 0.5 {
		t.Fatalf("unexpected binary cuts: %v", cuts)
	}

	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i)
	}
	cuts = featureCuts(values, 16)
	if len(cuts) != 15 {
		t.Fatalf("expected 15 quantile cuts, got %d", len(cuts))
	}
	for i := 1; i < len(cuts); i++ {
		if cuts[i] <= cuts[i-1] {
			t.Fatalf("cuts not increasing: %v", cuts)
		}
	}
}

func TestRegressionTreeValidate(t *testing.T) {
	tree := RegressionTree{Nodes: []TreeNode{
		{FeatureIdx: 0, Threshold: 1, LeftChild: 1, RightChild: 2},
		{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: 1, IsLeaf: true},
		{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: 2, IsLeaf: true},
	}}
	if err := tree.validate(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := tree.predictRow([]float64{0.5}); v != 1 {
		t.Fatalf("expected left leaf, got %v", v)
	}
	if v, _ := tree.predictRow([]float64{1.5}); v != 2 {
		t.Fatalf("expected right leaf, got %v", v)
	}

	cyclic := RegressionTree{Nodes: []TreeNode{{FeatureIdx: 0, LeftChild: 0, RightChild: 0}}}
	if err := cyclic.validate(1); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	if err := tree.validate(0); err == nil {
		t.Fatal("expected out-of-range feature to be rejected")
	}
}
