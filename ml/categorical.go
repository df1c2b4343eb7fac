package ml

import (
	"fmt"
	"math"
	"sort"
)

// UnknownPolicy decides how a category unseen at fit time is encoded.
type UnknownPolicy string

const (
	// UnknownIgnore encodes an unseen category as an all-zero block.
	UnknownIgnore UnknownPolicy = "ignore"
	// UnknownError rejects an unseen category with UnknownCategoryError.
	UnknownError UnknownPolicy = "error"
)

func (p UnknownPolicy) valid() bool {
	return p == UnknownIgnore || p == UnknownError
}

// CategoricalChain imputes missing values with the most frequent training
// category, one-hot encodes against the training vocabulary and scales each
// indicator column by its standard deviation without centering.
type CategoricalChain struct {
	Columns       []string
	HandleUnknown UnknownPolicy
}

// CategoricalColumnState is the learned state of one categorical column.
// Vocabulary is sorted; Scales[k] belongs to Vocabulary[k].
type CategoricalColumnState struct {
	Column     string    `json:"column"`
	Mode       string    `json:"mode"`
	Vocabulary []string  `json:"vocabulary"`
	Scales     []float64 `json:"scales"`

	index map[string]int
}

func (c CategoricalChain) fit(rows []Record) ([]CategoricalColumnState, error) {
	states := make([]CategoricalColumnState, len(c.Columns))
	for j, name := range c.Columns {
		counts := make(map[string]int)
		missing := 0
		for _, rec := range rows {
			cat, ok := categoryValue(rec[name])
			if !ok {
				missing++
				continue
			}
			counts[cat]++
		}
		if len(counts) == 0 {
			return nil, &EmptyColumnError{Column: name}
		}

		vocabulary := make([]string, 0, len(counts))
		for cat := range counts {
			vocabulary = append(vocabulary, cat)
		}
		sort.Strings(vocabulary)

		// vocabulary is sorted, so the first maximum wins ties with the
		// smallest category
		mode := vocabulary[0]
		for _, cat := range vocabulary[1:] {
			if counts[cat] > counts[mode] {
				mode = cat
			}
		}
		counts[mode] += missing

		n := float64(len(rows))
		scales := make([]float64, len(vocabulary))
		for k, cat := range vocabulary {
			p := float64(counts[cat]) / n
			scales[k] = safeScale(math.Sqrt(p * (1 - p)))
		}

		state := CategoricalColumnState{
			Column:     name,
			Mode:       mode,
			Vocabulary: vocabulary,
			Scales:     scales,
		}
		state.buildIndex()
		states[j] = state
	}
	return states, nil
}

func (s *CategoricalColumnState) buildIndex() {
	s.index = make(map[string]int, len(s.Vocabulary))
	for k, cat := range s.Vocabulary {
		s.index[cat] = k
	}
}

// OneHot returns the unscaled indicator block for v. Missing values use the
// training mode; unseen categories yield zeros under UnknownIgnore.
func (s CategoricalColumnState) OneHot(v Value, policy UnknownPolicy) ([]float64, error) {
	out := make([]float64, len(s.Vocabulary))
	if err := s.encode(out, v, policy, false); err != nil {
		return nil, err
	}
	return out, nil
}

func (s CategoricalColumnState) encode(dst []float64, v Value, policy UnknownPolicy, scaled bool) error {
	cat, ok := categoryValue(v)
	if !ok {
		cat = s.Mode
	}
	k, found := s.index[cat]
	if !found {
		if policy == UnknownError {
			return &UnknownCategoryError{Column: s.Column, Category: cat}
		}
		return nil
	}
	if scaled {
		dst[k] = 1 / s.Scales[k]
	} else {
		dst[k] = 1
	}
	return nil
}

func (s CategoricalColumnState) validate() error {
	if len(s.Vocabulary) == 0 {
		return fmt.Errorf("column %q has an empty vocabulary", s.Column)
	}
	if len(s.Scales) != len(s.Vocabulary) {
		return fmt.Errorf("column %q has %d scales for %d categories", s.Column, len(s.Scales), len(s.Vocabulary))
	}
	seen := make(map[string]struct{}, len(s.Vocabulary))
	for k, cat := range s.Vocabulary {
		if _, dup := seen[cat]; dup {
			return fmt.Errorf("column %q repeats category %q", s.Column, cat)
		}
		seen[cat] = struct{}{}
		if !validScale(s.Scales[k]) {
			return fmt.Errorf("column %q has invalid scale %v for %q", s.Column, s.Scales[k], cat)
		}
	}
	if _, ok := seen[s.Mode]; !ok {
		return fmt.Errorf("column %q mode %q is not in its vocabulary", s.Column, s.Mode)
	}
	return nil
}

func validScale(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
