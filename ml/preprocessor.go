package ml

import (
	"errors"
	"fmt"
	"sort"
)

// NumericStat is the learned standardization of one numeric column.
type NumericStat struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// CategoryVocabulary is the learned one-hot layout of one categorical column.
type CategoryVocabulary struct {
	Column     string   `json:"column"`
	Categories []string `json:"categories"`
}

// PreprocessorState is the persisted form of a fitted Preprocessor.
type PreprocessorState struct {
	Numeric     []NumericStat        `json:"numeric"`
	Categorical []CategoryVocabulary `json:"categorical"`
}

// Preprocessor standardizes the numeric columns and one-hot encodes the
// categorical ones. After fitting it is immutable, so Transform may be
// called from many goroutines at once.
type Preprocessor struct {
	numeric     []NumericStat
	categorical []CategoryVocabulary
	index       []map[string]int
	width       int
}

// FitPreprocessor learns column statistics from the training records.
func FitPreprocessor(records []EngineeredRecord) (*Preprocessor, error) {
	if len(records) == 0 {
		return nil, errors.New("records is empty")
	}

	numericNames := NumericColumns()
	columns := make([][]float64, len(numericNames))
	for i := range columns {
		columns[i] = make([]float64, len(records))
	}
	categoricalNames := CategoricalColumns()
	seen := make([]map[string]struct{}, len(categoricalNames))
	for i := range seen {
		seen[i] = make(map[string]struct{})
	}

	for r, record := range records {
		for i, v := range record.Numeric() {
			if !isFinite(v) {
				return nil, fmt.Errorf("record %d: %s is not finite", r, numericNames[i])
			}
			columns[i][r] = v
		}
		for i, v := range record.Categorical() {
			seen[i][v] = struct{}{}
		}
	}

	state := PreprocessorState{
		Numeric:     make([]NumericStat, len(numericNames)),
		Categorical: make([]CategoryVocabulary, len(categoricalNames)),
	}
	for i, name := range numericNames {
		mean, std := meanStd(columns[i])
		state.Numeric[i] = NumericStat{Column: name, Mean: mean, Scale: safeScale(std)}
	}
	for i, name := range categoricalNames {
		categories := make([]string, 0, len(seen[i]))
		for v := range seen[i] {
			categories = append(categories, v)
		}
		sort.Strings(categories)
		state.Categorical[i] = CategoryVocabulary{Column: name, Categories: categories}
	}
	return RestorePreprocessor(state)
}

// RestorePreprocessor rebuilds a fitted Preprocessor and checks that its
// columns match the model layout.
func RestorePreprocessor(state PreprocessorState) (*Preprocessor, error) {
	numericNames := NumericColumns()
	if len(state.Numeric) != len(numericNames) {
		return nil, fmt.Errorf("expected %d numeric columns, got %d", len(numericNames), len(state.Numeric))
	}
	categoricalNames := CategoricalColumns()
	if len(state.Categorical) != len(categoricalNames) {
		return nil, fmt.Errorf("expected %d categorical columns, got %d", len(categoricalNames), len(state.Categorical))
	}

	p := &Preprocessor{
		numeric:     make([]NumericStat, len(state.Numeric)),
		categorical: make([]CategoryVocabulary, len(state.Categorical)),
		index:       make([]map[string]int, len(state.Categorical)),
		width:       len(state.Numeric),
	}
	for i, stat := range state.Numeric {
		if stat.Column != numericNames[i] {
			return nil, fmt.Errorf("numeric column %d is %q, want %q", i, stat.Column, numericNames[i])
		}
		if !isFinite(stat.Mean) || !isFinite(stat.Scale) || stat.Scale == 0 {
			return nil, fmt.Errorf("numeric column %q has invalid statistics", stat.Column)
		}
		p.numeric[i] = stat
	}
	for i, vocab := range state.Categorical {
		if vocab.Column != categoricalNames[i] {
			return nil, fmt.Errorf("categorical column %d is %q, want %q", i, vocab.Column, categoricalNames[i])
		}
		index := make(map[string]int, len(vocab.Categories))
		for j, category := range vocab.Categories {
			if _, dup := index[category]; dup {
				return nil, fmt.Errorf("categorical column %q repeats %q", vocab.Column, category)
			}
			index[category] = j
		}
		p.categorical[i] = CategoryVocabulary{
			Column:     vocab.Column,
			Categories: append([]string(nil), vocab.Categories...),
		}
		p.index[i] = index
		p.width += len(vocab.Categories)
	}
	return p, nil
}

// Transform encodes one record. A category unseen at fit time leaves its
// block all zero.
func (p *Preprocessor) Transform(record EngineeredRecord) []float64 {
	out := make([]float64, p.width)
	for i, v := range record.Numeric() {
		stat := p.numeric[i]
		out[i] = standardize(v, stat.Mean, stat.Scale)
	}
	offset := len(p.numeric)
	for i, v := range record.Categorical() {
		if j, ok := p.index[i][v]; ok {
			out[offset+j] = 1
		}
		offset += len(p.categorical[i].Categories)
	}
	return out
}

func (p *Preprocessor) TransformBatch(records []EngineeredRecord) [][]float64 {
	out := make([][]float64, len(records))
	for i, record := range records {
		out[i] = p.Transform(record)
	}
	return out
}

// Width is the length of every transformed vector.
func (p *Preprocessor) Width() int {
	return p.width
}

// FeatureNames labels each transformed position, e.g. "City=Kolkata".
func (p *Preprocessor) FeatureNames() []string {
	names := make([]string, 0, p.width)
	for _, stat := range p.numeric {
		names = append(names, stat.Column)
	}
	for _, vocab := range p.categorical {
		for _, category := range vocab.Categories {
			names = append(names, vocab.Column+"="+category)
		}
	}
	return names
}

// State returns a copy of the fitted statistics for persistence.
func (p *Preprocessor) State() PreprocessorState {
	state := PreprocessorState{
		Numeric:     append([]NumericStat(nil), p.numeric...),
		Categorical: make([]CategoryVocabulary, len(p.categorical)),
	}
	for i, vocab := range p.categorical {
		state.Categorical[i] = CategoryVocabulary{
			Column:     vocab.Column,
			Categories: append([]string(nil), vocab.Categories...),
		}
	}
	return state
}
