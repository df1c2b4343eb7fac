package ml

import (
	"fmt"
)

// SplitTarget separates the target column from training rows. The returned
// feature records are copies without the target key.
func SplitTarget(schema Schema, rows []Record) ([]Record, []float64, error) {
	if schema.Target == "" {
		return nil, nil, fmt.Errorf("schema has no target column")
	}
	features := make([]Record, len(rows))
	target := make([]float64, len(rows))
	for i, rec := range rows {
		raw, ok := rec[schema.Target]
		if !ok {
			return nil, nil, &MissingColumnError{Column: schema.Target, Row: i}
		}
		y, present, err := numericValue(schema.Target, i, raw)
		if err != nil {
			return nil, nil, err
		}
		if !present {
			return nil, nil, &MissingColumnError{Column: schema.Target, Row: i}
		}
		feat := rec.clone()
		delete(feat, schema.Target)
		features[i] = feat
		target[i] = y
	}
	return features, target, nil
}

// TransformDatasets fits p on the training features only, transforms both
// datasets with that state and appends the target as the last column.
func TransformDatasets(p *Preprocessor, train, test []Record) (trainArr, testArr [][]float64, err error) {
	schema := p.Schema()
	if err := schema.ValidateRecords(train, true); err != nil {
		return nil, nil, fmt.Errorf("train set: %w", err)
	}
	if err := schema.ValidateRecords(test, true); err != nil {
		return nil, nil, fmt.Errorf("test set: %w", err)
	}
	trainX, trainY, err := SplitTarget(schema, train)
	if err != nil {
		return nil, nil, fmt.Errorf("train set: %w", err)
	}
	testX, testY, err := SplitTarget(schema, test)
	if err != nil {
		return nil, nil, fmt.Errorf("test set: %w", err)
	}

	trainFeatures, err := p.FitTransform(trainX)
	if err != nil {
		return nil, nil, fmt.Errorf("fit preprocessor: %w", err)
	}
	testFeatures, err := p.Transform(testX)
	if err != nil {
		return nil, nil, fmt.Errorf("transform test set: %w", err)
	}
	return appendTarget(trainFeatures, trainY), appendTarget(testFeatures, testY), nil
}

func appendTarget(features [][]float64, target []float64) [][]float64 {
	out := make([][]float64, len(features))
	for i, row := range features {
		joined := make([]float64, len(row)+1)
		copy(joined, row)
		joined[len(row)] = target[i]
		out[i] = joined
	}
	return out
}

// SplitFeaturesTarget undoes appendTarget: the last column is the target.
func SplitFeaturesTarget(arr [][]float64) ([][]float64, []float64) {
	X := make([][]float64, len(arr))
	y := make([]float64, len(arr))
	for i, row := range arr {
		if len(row) == 0 {
			continue
		}
		X[i] = row[:len(row)-1]
		y[i] = row[len(row)-1]
	}
	return X, y
}
