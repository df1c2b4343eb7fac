package ml

import (
	"errors"

	"go.uber.org/zap"
)

type BuildOptions struct {
	HandleUnknown UnknownPolicy
	Logger        *zap.Logger
}

// Preprocessor is the composite transformer. It starts unfit; Fit installs a
// FittedPreprocessor and a later Fit replaces it wholesale.
type Preprocessor struct {
	schema      Schema
	numeric     NumericChain
	categorical CategoricalChain
	fitted      *FittedPreprocessor
	logger      *zap.Logger
}

// Build defines the numeric and categorical chains for schema without
// applying them. Unseen categories are ignored.
func Build(schema Schema) *Preprocessor {
	return BuildWithOptions(schema, BuildOptions{})
}

func BuildWithOptions(schema Schema, opts BuildOptions) *Preprocessor {
	if !opts.HandleUnknown.valid() {
		opts.HandleUnknown = UnknownIgnore
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Preprocessor{
		schema:  schema,
		numeric: NumericChain{Columns: append([]string(nil), schema.Numeric...)},
		categorical: CategoricalChain{
			Columns:       append([]string(nil), schema.Categorical...),
			HandleUnknown: opts.HandleUnknown,
		},
		logger: opts.Logger,
	}
	p.logger.Info("preprocessor chains defined",
		zap.Strings("numerical_columns", p.numeric.Columns),
		zap.Strings("categorical_columns", p.categorical.Columns),
		zap.String("handle_unknown", string(p.categorical.HandleUnknown)),
	)
	return p
}

func (p *Preprocessor) Schema() Schema { return p.schema }

func (p *Preprocessor) IsFitted() bool { return p.fitted != nil }

// Fitted returns the learned state, or ErrNotFitted.
func (p *Preprocessor) Fitted() (*FittedPreprocessor, error) {
	if p.fitted == nil {
		return nil, &NotFittedError{Op: "Fitted"}
	}
	return p.fitted, nil
}

// Fit learns imputation, vocabulary and scaling parameters from features
// only. Both chains are fit independently on the same rows.
func (p *Preprocessor) Fit(features []Record) error {
	if len(features) == 0 {
		return ErrEmptyDataset
	}
	if err := p.schema.Validate(); err != nil {
		return err
	}
	if err := p.schema.ValidateRecords(features, false); err != nil {
		return err
	}
	numeric, err := p.numeric.fit(features)
	if err != nil {
		return err
	}
	categorical, err := p.categorical.fit(features)
	if err != nil {
		return err
	}
	p.fitted = &FittedPreprocessor{
		schema:        p.schema,
		handleUnknown: p.categorical.HandleUnknown,
		numeric:       numeric,
		categorical:   categorical,
	}
	p.logger.Debug("preprocessor fitted",
		zap.Int("rows", len(features)),
		zap.Int("output_width", p.fitted.Width()),
	)
	return nil
}

func (p *Preprocessor) Transform(features []Record) ([][]float64, error) {
	if p.fitted == nil {
		return nil, &NotFittedError{Op: "Transform"}
	}
	return p.fitted.Transform(features)
}

func (p *Preprocessor) FitTransform(features []Record) ([][]float64, error) {
	if err := p.Fit(features); err != nil {
		return nil, err
	}
	return p.fitted.Transform(features)
}

// FittedPreprocessor is immutable learned state. It is safe for concurrent use.
type FittedPreprocessor struct {
	schema        Schema
	handleUnknown UnknownPolicy
	numeric       []NumericColumnState
	categorical   []CategoricalColumnState
}

// NewFittedPreprocessor assembles learned state directly, e.g. from a
// migration tool or a test fixture.
func NewFittedPreprocessor(schema Schema, policy UnknownPolicy, numeric []NumericColumnState, categorical []CategoricalColumnState) (*FittedPreprocessor, error) {
	f := &FittedPreprocessor{
		schema:        schema,
		handleUnknown: policy,
		numeric:       append([]NumericColumnState(nil), numeric...),
		categorical:   make([]CategoricalColumnState, len(categorical)),
	}
	for i, c := range categorical {
		c.Vocabulary = append([]string(nil), c.Vocabulary...)
		c.Scales = append([]float64(nil), c.Scales...)
		c.buildIndex()
		f.categorical[i] = c
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FittedPreprocessor) Schema() Schema { return f.schema }

func (f *FittedPreprocessor) HandleUnknown() UnknownPolicy { return f.handleUnknown }

func (f *FittedPreprocessor) Numeric() []NumericColumnState {
	return append([]NumericColumnState(nil), f.numeric...)
}

func (f *FittedPreprocessor) Categorical() []CategoricalColumnState {
	out := make([]CategoricalColumnState, len(f.categorical))
	for i, c := range f.categorical {
		out[i] = c
		out[i].Vocabulary = append([]string(nil), c.Vocabulary...)
		out[i].Scales = append([]float64(nil), c.Scales...)
	}
	return out
}

// Width is the number of output columns: one per numeric column plus one
// per vocabulary entry of every categorical column.
func (f *FittedPreprocessor) Width() int {
	w := len(f.numeric)
	for _, c := range f.categorical {
		w += len(c.Vocabulary)
	}
	return w
}

// FeatureNames lists output columns in transform order.
func (f *FittedPreprocessor) FeatureNames() []string {
	names := make([]string, 0, f.Width())
	for _, n := range f.numeric {
		names = append(names, n.Column)
	}
	for _, c := range f.categorical {
		for _, cat := range c.Vocabulary {
			names = append(names, c.Column+"_"+cat)
		}
	}
	return names
}

// Transform encodes features with the learned state. Rows may come from the
// training set, a held-out set or a single inference request.
func (f *FittedPreprocessor) Transform(features []Record) ([][]float64, error) {
	if err := f.schema.ValidateRecords(features, false); err != nil {
		return nil, err
	}
	width := f.Width()
	out := make([][]float64, len(features))
	for i, rec := range features {
		row := make([]float64, width)
		col := 0
		for _, n := range f.numeric {
			v, err := n.transform(i, rec[n.Column])
			if err != nil {
				return nil, err
			}
			row[col] = v
			col++
		}
		for _, c := range f.categorical {
			block := row[col : col+len(c.Vocabulary)]
			if err := c.encode(block, rec[c.Column], f.handleUnknown, true); err != nil {
				return nil, err
			}
			col += len(c.Vocabulary)
		}
		out[i] = row
	}
	return out, nil
}

func (f *FittedPreprocessor) validate() error {
	if err := f.schema.Validate(); err != nil {
		return err
	}
	if !f.handleUnknown.valid() {
		return errors.New("invalid handle_unknown policy " + string(f.handleUnknown))
	}
	if len(f.numeric) != len(f.schema.Numeric) {
		return errors.New("numeric state does not match schema")
	}
	for i, n := range f.numeric {
		if n.Column != f.schema.Numeric[i] {
			return errors.New("numeric state column " + n.Column + " out of schema order")
		}
		if !finite(n.Median) || !finite(n.Mean) || !validScale(n.Scale) {
			return errors.New("numeric state for " + n.Column + " has non-finite or non-positive parameters")
		}
	}
	if len(f.categorical) != len(f.schema.Categorical) {
		return errors.New("categorical state does not match schema")
	}
	for i, c := range f.categorical {
		if c.Column != f.schema.Categorical[i] {
			return errors.New("categorical state column " + c.Column + " out of schema order")
		}
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}
