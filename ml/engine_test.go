package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTarget(rows []Record, scores ...float64) []Record {
	for i := range rows {
		rows[i][ColumnMathScore] = Number(scores[i])
	}
	return rows
}

func TestSplitTargetRemovesTargetFromCopies(t *testing.T) {
	rows := withTarget(sampleRecords(), 71, 90, 47, 76, 58, 65)
	features, target, err := SplitTarget(StudentSchema(), rows)
	require.NoError(t, err)
	assert.Equal(t, []float64{71, 90, 47, 76, 58, 65}, target)
	for i, rec := range features {
		_, ok := rec[ColumnMathScore]
		assert.False(t, ok, "row %d still carries the target", i)
		_, ok = rows[i][ColumnMathScore]
		assert.True(t, ok, "row %d of the input was mutated", i)
	}
}

func TestSplitTargetMissingValue(t *testing.T) {
	rows := withTarget(sampleRecords(), 71, 90, 47, 76, 58, 65)
	rows[2][ColumnMathScore] = Missing()
	_, _, err := SplitTarget(StudentSchema(), rows)
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 2, missing.Row)
}

func TestTransformDatasetsAppendsTargetLast(t *testing.T) {
	all := withTarget(sampleRecords(), 71, 90, 47, 76, 58, 65)
	train, test := all[:4], all[4:]

	p := Build(StudentSchema())
	trainArr, testArr, err := TransformDatasets(p, train, test)
	require.NoError(t, err)
	require.Len(t, trainArr, 4)
	require.Len(t, testArr, 2)

	fitted, err := p.Fitted()
	require.NoError(t, err)
	width := fitted.Width()
	for _, row := range append(trainArr, testArr...) {
		require.Len(t, row, width+1)
	}
	assert.Equal(t, 71.0, trainArr[0][width])
	assert.Equal(t, 65.0, testArr[1][width])

	// fitted on the train rows only
	writing := fitted.Numeric()[0]
	assert.Equal(t, 74.5, writing.Median)
	assert.InDelta(t, (74+88+44+75)/4.0, writing.Mean, 1e-9)

	X, y := SplitFeaturesTarget(testArr)
	assert.Len(t, X[0], width)
	assert.Equal(t, []float64{58, 65}, y)
}

func TestTransformDatasetsRequiresTargetInTestSet(t *testing.T) {
	all := withTarget(sampleRecords(), 71, 90, 47, 76, 58, 65)
	delete(all[5], ColumnMathScore)
	_, _, err := TransformDatasets(Build(StudentSchema()), all[:4], all[4:])
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestTrainBestPicksHighestTestScore(t *testing.T) {
	var train, test [][]float64
	for i := 0; i < 40; i++ {
		x := float64(i)
		row := []float64{x, math.Mod(x, 3), 2*x + 1}
		if i%5 == 0 {
			test = append(test, row)
		} else {
			train = append(train, row)
		}
	}
	cfg := TrainerConfig{MaxTreeDepth: 3, MinSamplesLeaf: 2}
	result, err := TrainBest(DefaultCandidates(cfg), train, test, 0.6, nil)
	require.NoError(t, err)
	assert.Equal(t, ModelLinearRegression, result.Best.Type)
	assert.InDelta(t, 1.0, result.Best.Test.R2, 1e-9)
	assert.Len(t, result.Reports, 3)
}

func TestTrainBestRejectsPoorModels(t *testing.T) {
	train := [][]float64{{1, 5}, {2, 1}, {3, 4}, {4, 2}, {5, 3}, {6, 5}}
	test := [][]float64{{1, 1}, {2, 5}, {3, 1}}
	_, err := TrainBest([]Candidate{{Name: "Linear Regression", New: func() Estimator { return NewLinearRegression() }}}, train, test, 0.6, nil)
	assert.ErrorIs(t, err, ErrNoAcceptableModel)
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, StudentSchema().Validate())
	bad := Schema{Numeric: []string{"a"}, Categorical: []string{"a"}, Target: "y"}
	assert.Error(t, bad.Validate())
	assert.Error(t, Schema{Numeric: []string{"a"}, Target: "a"}.Validate())
	assert.Error(t, Schema{}.Validate())
}

func TestValidateRecordTargetOnlyForTraining(t *testing.T) {
	schema := StudentSchema()
	rec := sampleRecords()[0]
	assert.NoError(t, schema.ValidateRecord(rec, false))
	assert.ErrorIs(t, schema.ValidateRecord(rec, true), ErrMissingColumn)

	rec[ColumnLunch] = Missing()
	assert.NoError(t, schema.ValidateRecord(rec, false))
}

func TestParseCell(t *testing.T) {
	schema := StudentSchema()
	assert.Equal(t, Number(72), schema.ParseCell(ColumnReadingScore, " 72 "))
	assert.True(t, schema.ParseCell(ColumnReadingScore, "NA").IsMissing())
	assert.True(t, schema.ParseCell(ColumnLunch, "").IsMissing())
	assert.Equal(t, Category("free/reduced"), schema.ParseCell(ColumnLunch, "free/reduced"))
	assert.Equal(t, Category("abc"), schema.ParseCell(ColumnWritingScore, "abc"))
}

func TestTrainBestRejectsConstantTestTargets(t *testing.T) {
	train := [][]float64{{1, 3}, {2, 5}, {3, 7}, {4, 9}, {5, 11}}
	test := [][]float64{{3, 7}, {3, 7}}
	_, err := TrainBest([]Candidate{{Name: "Linear Regression", New: func() Estimator { return NewLinearRegression() }}}, train, test, 0.6, nil)
	assert.ErrorIs(t, err, ErrNoAcceptableModel)
}

func TestParseCellRejectsInfinity(t *testing.T) {
	schema := StudentSchema()
	for _, raw := range []string{"Inf", "-inf", "+Infinity"} {
		v := schema.ParseCell(ColumnWritingScore, raw)
		assert.Equal(t, KindCategory, v.Kind, raw)
		_, _, err := numericValue(ColumnWritingScore, 0, v)
		assert.ErrorIs(t, err, ErrInvalidValue, raw)
	}
}

func TestNonFiniteNumbersAreInvalid(t *testing.T) {
	rows := sampleRecords()
	rows[2][ColumnWritingScore] = Number(math.Inf(1))
	err := Build(StudentSchema()).Fit(rows)
	var invalid *InvalidValueError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ColumnWritingScore, invalid.Column)
	assert.Equal(t, 2, invalid.Row)

	p := Build(StudentSchema())
	require.NoError(t, p.Fit(sampleRecords()))
	rec := sampleRecords()[0]
	rec[ColumnReadingScore] = Number(math.Inf(-1))
	_, err = p.Transform([]Record{rec})
	assert.ErrorIs(t, err, ErrInvalidValue)
}
