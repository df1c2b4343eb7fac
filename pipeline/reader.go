package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"examscore/ml"
)

// Table 原始表格数据
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a .csv or .xlsx source. charset names a legacy text
// encoding for CSV input ("gbk", "windows-1252", ...); empty means UTF-8.
// sheet selects an xlsx sheet; empty means the first one.
func ReadTable(path, charset, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path, sheet)
	default:
		return readCSV(path, charset)
	}
}

func readCSV(path, charset string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if cs := strings.ToLower(strings.TrimSpace(charset)); cs != "" && cs != "utf-8" && cs != "utf8" {
		enc, err := htmlindex.Get(cs)
		if err != nil {
			return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
		}
		r = transform.NewReader(f, enc.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}
	return newTable(path, records)
}

func readXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}
	return newTable(path, rows)
}

func newTable(path string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header row", path)
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if isBlankRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return &Table{Header: header, Rows: rows}, nil
}

func isBlankRow(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Records converts the table into raw records for the schema columns. Other
// columns are ignored. Short rows yield missing values.
func (t *Table) Records(schema ml.Schema, requireTarget bool) ([]ml.Record, error) {
	if err := schema.ValidateColumns(t.Header, requireTarget); err != nil {
		return nil, err
	}
	columns := schema.Features()
	if schema.Target != "" {
		columns = append(columns, schema.Target)
	}
	index := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		index[h] = i
	}

	records := make([]ml.Record, len(t.Rows))
	for r, row := range t.Rows {
		rec := make(ml.Record, len(columns))
		for _, name := range columns {
			i, ok := index[name]
			if !ok {
				continue
			}
			if i < len(row) {
				rec[name] = schema.ParseCell(name, row[i])
			} else {
				rec[name] = ml.Missing()
			}
		}
		records[r] = rec
	}
	return records, nil
}

// ReadRecords reads a UTF-8 CSV written by Ingest into records.
func ReadRecords(path string, schema ml.Schema, requireTarget bool) ([]ml.Record, error) {
	table, err := readCSV(path, "")
	if err != nil {
		return nil, err
	}
	records, err := table.Records(schema, requireTarget)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Join(fmt.Errorf("write %s", path), err)
	}
	return nil
}
