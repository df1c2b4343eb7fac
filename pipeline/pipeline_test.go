package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"examscore/artifact"
	"examscore/ml"
)

var studentHeader = []string{
	"gender", "race_ethnicity", "parental_level_of_education", "lunch",
	"test_preparation_course", "math_score", "reading_score", "writing_score",
}

var (
	genders   = []string{"female", "male"}
	groups    = []string{"group A", "group B", "group C", "group D", "group E"}
	education = []string{"bachelor's degree", "some college", "high school", "master's degree"}
	lunches   = []string{"standard", "free/reduced"}
	courses   = []string{"none", "completed"}
)

func expectedMath(gender, lunch, course string, reading, writing float64) float64 {
	score := 0.45*reading + 0.45*writing
	if gender == "male" {
		score += 5
	}
	if lunch == "standard" {
		score += 4
	}
	if course == "completed" {
		score += 3
	}
	return score
}

func studentRows(n int) [][]string {
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		gender := genders[i%2]
		lunch := lunches[(i/2)%2]
		course := courses[(i/3)%2]
		reading := float64(40 + (i*7)%55)
		writing := float64(35 + (i*11)%60)
		noise := float64(i%5-2) * 0.3
		rows[i] = []string{
			gender, groups[i%5], education[i%4], lunch, course,
			fmt.Sprintf("%.2f", expectedMath(gender, lunch, course, reading, writing)+noise),
			fmt.Sprintf("%.0f", reading),
			fmt.Sprintf("%.0f", writing),
		}
	}
	return rows
}

func writeStudentCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
}

func countDataRows(t *testing.T, path string) int {
	t.Helper()
	table, err := ReadTable(path, "", "")
	require.NoError(t, err)
	return len(table.Rows)
}

func TestSplitRowsIsDeterministic(t *testing.T) {
	rows := studentRows(50)

	train1, test1 := splitRows(rows, 0.2, 42)
	train2, test2 := splitRows(rows, 0.2, 42)
	assert.Equal(t, train1, train2)
	assert.Equal(t, test1, test2)
	assert.Len(t, test1, 10)
	assert.Len(t, train1, 40)

	_, other := splitRows(rows, 0.2, 7)
	assert.NotEqual(t, test1, other)
}

func TestSplitRowsKeepsBothSidesNonEmpty(t *testing.T) {
	rows := studentRows(2)
	train, test := splitRows(rows, 0.9, 1)
	assert.Len(t, train, 1)
	assert.Len(t, test, 1)
}

func TestIngestWritesSplits(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "stud.csv")
	writeStudentCSV(t, source, studentHeader, studentRows(50))

	artifacts := filepath.Join(dir, "artifacts")
	result, err := Ingest(context.Background(), IngestionConfig{
		SourcePath:  source,
		ArtifactDir: artifacts,
		TestRatio:   0.2,
		Seed:        DefaultSplitSeed,
	}, ml.StudentSchema(), nil)
	require.NoError(t, err)

	assert.Equal(t, 50, result.Rows)
	assert.Equal(t, 40, result.TrainRows)
	assert.Equal(t, 10, result.TestRows)
	assert.Equal(t, 50, countDataRows(t, result.RawPath))
	assert.Equal(t, 40, countDataRows(t, result.TrainPath))
	assert.Equal(t, 10, countDataRows(t, result.TestPath))
}

func TestIngestRejectsMissingColumn(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "stud.csv")
	header := []string{"gender", "race_ethnicity", "parental_level_of_education", "test_preparation_course", "math_score", "reading_score", "writing_score"}
	writeStudentCSV(t, source, header, [][]string{
		{"female", "group B", "some college", "none", "70", "72", "74"},
		{"male", "group C", "high school", "none", "60", "61", "59"},
	})

	_, err := Ingest(context.Background(), IngestionConfig{SourcePath: source, ArtifactDir: dir}, ml.StudentSchema(), nil)
	require.ErrorIs(t, err, ml.ErrMissingColumn)
	assert.Contains(t, err.Error(), "lunch")
}

func TestIngestDecodesLegacyCharset(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	w := csv.NewWriter(&b)
	require.NoError(t, w.Write(studentHeader))
	require.NoError(t, w.WriteAll([][]string{
		{"female", "group B", "études supérieures", "standard", "none", "72", "72", "74"},
		{"male", "group C", "high school", "standard", "none", "60", "61", "59"},
	}))
	encoded, err := charmap.Windows1252.NewEncoder().String(b.String())
	require.NoError(t, err)
	source := filepath.Join(dir, "legacy.csv")
	require.NoError(t, os.WriteFile(source, []byte(encoded), 0o644))

	result, err := Ingest(context.Background(), IngestionConfig{
		SourcePath:  source,
		ArtifactDir: filepath.Join(dir, "out"),
		Charset:     "windows-1252",
	}, ml.StudentSchema(), nil)
	require.NoError(t, err)

	records, err := ReadRecords(result.RawPath, ml.StudentSchema(), true)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ml.Category("études supérieures"), records[0][ml.ColumnParentalEducation])
}

func TestReadTableFromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stud.xlsx")
	f := excelize.NewFile()
	header := make([]interface{}, len(studentHeader))
	for i, h := range studentHeader {
		header[i] = h
	}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{
		"female", "group B", "bachelor's degree", "standard", "none", 72, 72, 74,
	}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := ReadTable(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, studentHeader, table.Header)
	require.Len(t, table.Rows, 1)

	records, err := table.Records(ml.StudentSchema(), true)
	require.NoError(t, err)
	assert.Equal(t, ml.Number(72), records[0][ml.ColumnMathScore])
	assert.Equal(t, ml.Category("bachelor's degree"), records[0][ml.ColumnParentalEducation])
}

func TestReadRecordsMissingTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.csv")
	writeStudentCSV(t, path, studentHeader, [][]string{
		{"female", "group B", "", "standard", "none", "72", "NA", "74"},
		{"male", "group C", "high school", "standard", "none", "60", "61"},
	})

	records, err := ReadRecords(path, ml.StudentSchema(), true)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0][ml.ColumnReadingScore].IsMissing())
	assert.True(t, records[0][ml.ColumnParentalEducation].IsMissing())
	assert.True(t, records[1][ml.ColumnWritingScore].IsMissing())
}

func trainFixture(t *testing.T) (*TrainingReport, string) {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "stud.csv")
	writeStudentCSV(t, source, studentHeader, studentRows(80))

	artifacts := filepath.Join(dir, "artifacts")
	report, err := RunTraining(context.Background(), TrainingConfig{
		Schema:      ml.StudentSchema(),
		Ingestion:   IngestionConfig{SourcePath: source, TestRatio: 0.2, Seed: 42},
		ArtifactDir: artifacts,
	}, artifact.NewStore(), nil)
	require.NoError(t, err)
	return report, artifacts
}

func TestRunTrainingPersistsArtifacts(t *testing.T) {
	report, artifacts := trainFixture(t)

	assert.NotEmpty(t, report.RunID)
	assert.GreaterOrEqual(t, report.Best.Test.R2, ml.DefaultMinScore)
	assert.Len(t, report.Candidates, 3)
	assert.Equal(t, filepath.Join(artifacts, DefaultPreprocessorFile), report.PreprocessorPath)
	assert.Equal(t, filepath.Join(artifacts, DefaultModelFile), report.ModelPath)

	store := artifact.NewStore()
	var fitted ml.FittedPreprocessor
	require.NoError(t, store.Load(report.PreprocessorPath, &fitted))
	var model ml.SavedModel
	require.NoError(t, store.Load(report.ModelPath, &model))
	assert.Equal(t, fitted.FeatureNames(), model.Features)
	assert.Equal(t, report.Best.Type, model.Estimator.Type())
}

func TestRunTrainingRejectsUnlearnableData(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "stud.csv")
	rows := studentRows(60)
	for i := range rows {
		// target unrelated to any feature
		rows[i][5] = fmt.Sprintf("%d", (i*37)%101)
	}
	writeStudentCSV(t, source, studentHeader, rows)

	artifacts := filepath.Join(dir, "artifacts")
	_, err := RunTraining(context.Background(), TrainingConfig{
		Schema:      ml.StudentSchema(),
		Ingestion:   IngestionConfig{SourcePath: source},
		ArtifactDir: artifacts,
	}, nil, nil)
	require.ErrorIs(t, err, ml.ErrNoAcceptableModel)
	assert.NoFileExists(t, filepath.Join(artifacts, DefaultModelFile))
	assert.NoFileExists(t, filepath.Join(artifacts, DefaultPreprocessorFile))
}

func newPipeline(report *TrainingReport, cache *artifact.Cache) *PredictPipeline {
	return NewPredictPipeline(PredictOptions{
		Schema:           ml.StudentSchema(),
		Cache:            cache,
		PreprocessorPath: report.PreprocessorPath,
		ModelPath:        report.ModelPath,
	})
}

func TestPredictAfterTraining(t *testing.T) {
	report, _ := trainFixture(t)
	p := newPipeline(report, nil)

	data := CustomData{
		Gender:                   "male",
		RaceEthnicity:            "group C",
		ParentalLevelOfEducation: "some college",
		Lunch:                    "standard",
		TestPreparationCourse:    "completed",
		ReadingScore:             70,
		WritingScore:             68,
	}
	scores, err := p.Predict(context.Background(), []ml.Record{data.ToRecord()})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	want := expectedMath("male", "standard", "completed", 70, 68)
	assert.InDelta(t, want, scores[0], 3.0)
}

func TestPredictPreservesOrder(t *testing.T) {
	report, _ := trainFixture(t)
	p := newPipeline(report, nil)

	low := CustomData{Gender: "female", RaceEthnicity: "group A", ParentalLevelOfEducation: "high school",
		Lunch: "free/reduced", TestPreparationCourse: "none", ReadingScore: 45, WritingScore: 40}
	high := CustomData{Gender: "male", RaceEthnicity: "group E", ParentalLevelOfEducation: "master's degree",
		Lunch: "standard", TestPreparationCourse: "completed", ReadingScore: 92, WritingScore: 90}

	batch, err := p.Predict(context.Background(), []ml.Record{low.ToRecord(), high.ToRecord()})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	single, err := p.Predict(context.Background(), []ml.Record{high.ToRecord()})
	require.NoError(t, err)

	assert.Less(t, batch[0], batch[1])
	assert.InDelta(t, single[0], batch[1], 1e-9)
}

func TestPredictUnknownCategoryAndMissingValues(t *testing.T) {
	report, _ := trainFixture(t)
	p := newPipeline(report, nil)

	rec := CustomData{Gender: "nonbinary", RaceEthnicity: "group Z", ParentalLevelOfEducation: "some college",
		Lunch: "standard", TestPreparationCourse: "none", ReadingScore: 70}.ToRecord()
	rec[ml.ColumnWritingScore] = ml.Missing()

	scores, err := p.Predict(context.Background(), []ml.Record{rec})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.False(t, math.IsNaN(scores[0]))
}

func TestPredictEmptyBatchSkipsArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := NewPredictPipeline(PredictOptions{
		Schema:           ml.StudentSchema(),
		PreprocessorPath: filepath.Join(dir, "missing.json"),
		ModelPath:        filepath.Join(dir, "missing-model.json"),
	})
	scores, err := p.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

func TestPredictMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := NewPredictPipeline(PredictOptions{
		Schema:           ml.StudentSchema(),
		PreprocessorPath: filepath.Join(dir, DefaultPreprocessorFile),
		ModelPath:        filepath.Join(dir, DefaultModelFile),
	})
	rec := CustomData{Gender: "female", RaceEthnicity: "group B", ParentalLevelOfEducation: "some college",
		Lunch: "standard", TestPreparationCourse: "none", ReadingScore: 70, WritingScore: 72}.ToRecord()

	_, err := p.Predict(context.Background(), []ml.Record{rec})
	var notFound *artifact.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, filepath.Join(dir, DefaultPreprocessorFile), notFound.Path)
}

func TestPredictMissingColumn(t *testing.T) {
	report, _ := trainFixture(t)
	p := newPipeline(report, nil)

	rec := CustomData{Gender: "female"}.ToRecord()
	delete(rec, ml.ColumnLunch)
	_, err := p.Predict(context.Background(), []ml.Record{rec})

	var missing *ml.MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ml.ColumnLunch, missing.Column)
	assert.Equal(t, 0, missing.Row)
}

func TestPredictUsesCache(t *testing.T) {
	report, _ := trainFixture(t)
	cache, err := artifact.NewCache(artifact.NewStore(), 4)
	require.NoError(t, err)
	p := newPipeline(report, cache)

	rec := CustomData{Gender: "female", RaceEthnicity: "group B", ParentalLevelOfEducation: "some college",
		Lunch: "standard", TestPreparationCourse: "none", ReadingScore: 70, WritingScore: 72}.ToRecord()
	first, err := p.Predict(context.Background(), []ml.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	second, err := p.Predict(context.Background(), []ml.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, cache.Contains(report.ModelPath))
}

func TestPredictRejectsArtifactsFromDifferentRuns(t *testing.T) {
	report, _ := trainFixture(t)

	// same width as the trained preprocessor, different vocabulary
	rows := studentRows(80)
	for i := range rows {
		if rows[i][1] == "group A" {
			rows[i][1] = "group Z"
		}
	}
	source := filepath.Join(t.TempDir(), "other.csv")
	writeStudentCSV(t, source, studentHeader, rows)
	records, err := ReadRecords(source, ml.StudentSchema(), true)
	require.NoError(t, err)
	other := ml.Build(ml.StudentSchema())
	require.NoError(t, other.Fit(records))
	fitted, err := other.Fitted()
	require.NoError(t, err)

	store := artifact.NewStore()
	var model ml.SavedModel
	require.NoError(t, store.Load(report.ModelPath, &model))
	require.Len(t, fitted.FeatureNames(), len(model.Features))
	require.NoError(t, store.Save(report.PreprocessorPath, fitted))

	rec := CustomData{Gender: "female", RaceEthnicity: "group B", ParentalLevelOfEducation: "some college",
		Lunch: "standard", TestPreparationCourse: "none", ReadingScore: 70, WritingScore: 72}.ToRecord()
	_, err = newPipeline(report, nil).Predict(context.Background(), []ml.Record{rec})
	require.ErrorIs(t, err, ErrArtifactMismatch)
	assert.Contains(t, err.Error(), report.ModelPath)
	assert.Contains(t, err.Error(), report.PreprocessorPath)
}
