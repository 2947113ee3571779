package ml

import "sort"

const (
	// OtherLocality is the catch-all bucket for localities outside the
	// learned vocabulary.
	OtherLocality = "Other"
	// DefaultTopLocalities is how many localities keep their own bucket.
	DefaultTopLocalities = 50
)

// LocalityVocabulary is the frozen set of most frequent training
// localities. It is read-only after construction.
type LocalityVocabulary struct {
	top   []string
	index map[string]struct{}
}

// FitLocalities ranks values by frequency, breaking ties by first
// appearance, and keeps the k most frequent. Blank values are not counted.
func FitLocalities(values []string, k int) *LocalityVocabulary {
	if k <= 0 {
		k = DefaultTopLocalities
	}

	type entry struct {
		value string
		count int
		first int
	}
	positions := make(map[string]int)
	entries := make([]entry, 0)
	for i, v := range values {
		if v == "" {
			continue
		}
		pos, ok := positions[v]
		if !ok {
			pos = len(entries)
			positions[v] = pos
			entries = append(entries, entry{value: v, first: i})
		}
		entries[pos].count++
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].count > entries[j].count
	})
	if len(entries) > k {
		entries = entries[:k]
	}

	top := make([]string, len(entries))
	for i, e := range entries {
		top[i] = e.value
	}
	return NewLocalityVocabulary(top)
}

// NewLocalityVocabulary freezes an already ranked list of localities.
func NewLocalityVocabulary(top []string) *LocalityVocabulary {
	v := &LocalityVocabulary{
		top:   append([]string(nil), top...),
		index: make(map[string]struct{}, len(top)),
	}
	for _, locality := range v.top {
		v.index[locality] = struct{}{}
	}
	return v
}

// Bucket maps a locality to itself when it is in the vocabulary and to
// OtherLocality otherwise.
func (v *LocalityVocabulary) Bucket(locality string) string {
	if v.Contains(locality) {
		return locality
	}
	return OtherLocality
}

func (v *LocalityVocabulary) Contains(locality string) bool {
	if v == nil {
		return false
	}
	_, ok := v.index[locality]
	return ok
}

// Top returns the ranked vocabulary, most frequent first.
func (v *LocalityVocabulary) Top() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.top...)
}

// Labels returns every value Bucket can produce, OtherLocality first.
func (v *LocalityVocabulary) Labels() []string {
	labels := []string{OtherLocality}
	for _, locality := range v.Top() {
		if locality != OtherLocality {
			labels = append(labels, locality)
		}
	}
	return labels
}

func (v *LocalityVocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.top)
}
