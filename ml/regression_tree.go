package ml

import (
	"errors"
	"math"
	"sort"
)

const ModelRegressionTree = "regression_tree"

// RegressionTree is a CART regressor stored as a flat node slice. Child
// indices are absolute positions in Nodes.
type RegressionTree struct {
	MaxDepth       int        `json:"max_depth"`
	MinSamplesLeaf int        `json:"min_samples_leaf"`
	Nodes          []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewRegressionTree(maxDepth, minSamplesLeaf int) *RegressionTree {
	return &RegressionTree{MaxDepth: maxDepth, MinSamplesLeaf: minSamplesLeaf}
}

func (t *RegressionTree) Type() string { return ModelRegressionTree }

func (t *RegressionTree) Fit(features [][]float64, target []float64) error {
	if _, _, err := checkTrainingShape(features, target); err != nil {
		return err
	}
	if t.MaxDepth <= 0 {
		t.MaxDepth = 6
	}
	if t.MinSamplesLeaf <= 0 {
		t.MinSamplesLeaf = 5
	}
	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	t.Nodes = nil
	t.Nodes = t.buildNode(features, target, idx, 0, 0)
	return nil
}

func (t *RegressionTree) Predict(features [][]float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	out := make([]float64, len(features))
	for i, row := range features {
		v, err := t.predictOne(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *RegressionTree) predictOne(features []float64) (float64, error) {
	idx := 0
	for {
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
}

// buildNode returns the subtree for idx with child indices already offset
// by base, the subtree's position in the final slice.
func (t *RegressionTree) buildNode(features [][]float64, target []float64, idx []int, depth, base int) []TreeNode {
	value := meanOf(target, idx)
	leaf := []TreeNode{{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: value, IsLeaf: true}}
	if depth >= t.MaxDepth || len(idx) < 2*t.MinSamplesLeaf {
		return leaf
	}

	feature, threshold, ok := t.findBestSplit(features, target, idx)
	if !ok {
		return leaf
	}
	left, right := splitIndices(features, idx, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}

	leftNodes := t.buildNode(features, target, left, depth+1, base+1)
	rightNodes := t.buildNode(features, target, right, depth+1, base+1+len(leftNodes))

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  base + 1,
		RightChild: base + 1 + len(leftNodes),
		Value:      value,
	})
	nodes = append(nodes, leftNodes...)
	nodes = append(nodes, rightNodes...)
	return nodes
}

// findBestSplit scans every midpoint between consecutive distinct values and
// keeps the split with the lowest summed squared error.
func (t *RegressionTree) findBestSplit(features [][]float64, target []float64, idx []int) (int, float64, bool) {
	featureCount := len(features[idx[0]])
	bestFeature := -1
	bestThreshold := 0.0
	bestSSE := sse(target, idx)

	order := make([]int, len(idx))
	for f := 0; f < featureCount; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return features[order[a]][f] < features[order[b]][f]
		})

		var totalSum, totalSq float64
		for _, i := range order {
			totalSum += target[i]
			totalSq += target[i] * target[i]
		}
		var leftSum, leftSq float64
		for k := 0; k < len(order)-1; k++ {
			y := target[order[k]]
			leftSum += y
			leftSq += y * y
			nLeft := k + 1
			nRight := len(order) - nLeft
			cur, next := features[order[k]][f], features[order[k+1]][f]
			if cur == next || nLeft < t.MinSamplesLeaf || nRight < t.MinSamplesLeaf {
				continue
			}
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			split := (leftSq - leftSum*leftSum/float64(nLeft)) + (rightSq - rightSum*rightSum/float64(nRight))
			if split < bestSSE-1e-12 {
				bestSSE = split
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitIndices(features [][]float64, idx []int, feature int, threshold float64) (left, right []int) {
	for _, i := range idx {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func meanOf(values []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += values[i]
	}
	return sum / float64(len(idx))
}

func sse(values []float64, idx []int) float64 {
	mean := meanOf(values, idx)
	total := 0.0
	for _, i := range idx {
		d := values[i] - mean
		total += d * d
	}
	if math.IsNaN(total) {
		return math.MaxFloat64
	}
	return total
}
