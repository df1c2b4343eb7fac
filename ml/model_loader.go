package ml

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	ModelFormat  = "examscore.model"
	ModelVersion = 1
)

// SavedModel is the persisted envelope of a trained estimator.
type SavedModel struct {
	Estimator Estimator
	// Features records the preprocessor output columns the model was fit on.
	Features []string
}

type modelDocument struct {
	Format   string          `json:"format"`
	Version  int             `json:"version"`
	Type     string          `json:"type"`
	Features []string        `json:"features,omitempty"`
	Params   json.RawMessage `json:"params"`
}

func (m *SavedModel) MarshalJSON() ([]byte, error) {
	if m.Estimator == nil {
		return nil, errors.New("saved model has no estimator")
	}
	params, err := json.Marshal(m.Estimator)
	if err != nil {
		return nil, err
	}
	return json.Marshal(modelDocument{
		Format:   ModelFormat,
		Version:  ModelVersion,
		Type:     m.Estimator.Type(),
		Features: m.Features,
		Params:   params,
	})
}

func (m *SavedModel) UnmarshalJSON(data []byte) error {
	var doc modelDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Format != ModelFormat {
		return fmt.Errorf("unexpected artifact format %q", doc.Format)
	}
	if doc.Version != ModelVersion {
		return fmt.Errorf("unsupported model version %d", doc.Version)
	}
	estimator, err := LoadModel(doc.Type, doc.Params)
	if err != nil {
		return err
	}
	m.Estimator = estimator
	m.Features = doc.Features
	return nil
}

func (m *SavedModel) Predict(features [][]float64) ([]float64, error) {
	if m.Estimator == nil {
		return nil, errors.New("saved model has no estimator")
	}
	if len(m.Features) > 0 {
		for i, row := range features {
			if len(row) != len(m.Features) {
				return nil, fmt.Errorf("row %d has %d features, model was trained on %d", i, len(row), len(m.Features))
			}
		}
	}
	return m.Estimator.Predict(features)
}

// LoadModel decodes estimator parameters for the given model type.
func LoadModel(modelType string, params []byte) (Estimator, error) {
	switch modelType {
	case ModelLinearRegression, ModelRidge:
		model := &LinearRegression{}
		if err := json.Unmarshal(params, model); err != nil {
			return nil, err
		}
		if model.Coefficients == nil {
			return nil, errors.New("linear model has no coefficients")
		}
		return model, nil
	case ModelRegressionTree:
		model := &RegressionTree{}
		if err := json.Unmarshal(params, model); err != nil {
			return nil, err
		}
		if err := model.validate(); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModelType, modelType)
	}
}

func (t *RegressionTree) validate() error {
	if len(t.Nodes) == 0 {
		return errors.New("regression tree has no nodes")
	}
	for i, node := range t.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(t.Nodes) ||
			node.RightChild <= i || node.RightChild >= len(t.Nodes) {
			return fmt.Errorf("regression tree node %d has invalid children", i)
		}
	}
	return nil
}
