package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"repliscope/domain/study"
	"repliscope/ports"
)

// Candidate header names for the required columns, checked case-insensitively.
var (
	articleColumns = []string{"article_id", "article"}
	studyColumns   = []string{"study_id", "study"}
	pValueColumns  = []string{"p_value", "pvalue", "p"}
)

// Loader reads a screened p-value table from an Excel or CSV file. The
// three required columns are article id, study id, and p-value; every other
// column becomes a grouping dimension.
type Loader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

var _ ports.ObservationSourcePort = (*Loader)(nil)

// NewLoader creates a loader that handles both Excel and CSV files.
func NewLoader(filePath string) *Loader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &Loader{filePath: filePath, fileType: fileType}
}

// LoadTable reads and validates the observation table.
func (l *Loader) LoadTable(ctx context.Context) (*study.Table, error) {
	log.Printf("[TableLoader] Reading %s file: %s", l.fileType, l.filePath)

	if _, err := os.Stat(l.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(l.fileType), l.filePath)
	}

	var rows [][]string
	var err error
	switch l.fileType {
	case "csv":
		rows, err = l.readCSVRows()
	case "xlsx":
		rows, err = l.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", l.fileType)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(l.fileType))
	}
	return l.buildTable(rows)
}

func (l *Loader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	// Always use Sheet1.
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	return rows, nil
}

func (l *Loader) readCSVRows() ([][]string, error) {
	file, err := os.Open(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// buildTable converts raw string rows into a validated observation table.
func (l *Loader) buildTable(rows [][]string) (*study.Table, error) {
	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.TrimSpace(header)
	}

	articleIdx, err := findColumn(headers, articleColumns)
	if err != nil {
		return nil, err
	}
	studyIdx, err := findColumn(headers, studyColumns)
	if err != nil {
		return nil, err
	}
	pValueIdx, err := findColumn(headers, pValueColumns)
	if err != nil {
		return nil, err
	}

	// Every remaining column is a grouping dimension.
	dimensionIdx := make(map[int]string)
	for i, header := range headers {
		if i == articleIdx || i == studyIdx || i == pValueIdx || header == "" {
			continue
		}
		dimensionIdx[i] = header
	}

	observations := make([]study.Observation, 0, len(rows)-1)
	for rowNum := 1; rowNum < len(rows); rowNum++ {
		row := rows[rowNum]
		if isBlankRow(row) {
			continue
		}

		articleID := cellAt(row, articleIdx)
		studyID := cellAt(row, studyIdx)
		rawPValue := cellAt(row, pValueIdx)
		if rawPValue == "" {
			return nil, fmt.Errorf("row %d: p-value cell is empty", rowNum+1)
		}
		pValue, err := strconv.ParseFloat(rawPValue, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: cannot parse p-value %q: %w", rowNum+1, rawPValue, err)
		}

		var groups map[string]string
		for idx, dimension := range dimensionIdx {
			label := cellAt(row, idx)
			if label == "" {
				continue
			}
			if groups == nil {
				groups = make(map[string]string, len(dimensionIdx))
			}
			groups[dimension] = label
		}

		obs, err := study.NewObservation(articleID, studyID, pValue, groups)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum+1, err)
		}
		observations = append(observations, obs)
	}

	table, err := study.NewTable(observations)
	if err != nil {
		return nil, fmt.Errorf("building observation table: %w", err)
	}
	log.Printf("[TableLoader] %s file processed (%d observations, %d studies, %d dimensions)",
		strings.ToUpper(l.fileType), table.Len(), table.StudyCount(), len(table.Dimensions()))
	return table, nil
}

// findColumn locates the first header matching any candidate name.
func findColumn(headers []string, candidates []string) (int, error) {
	for _, candidate := range candidates {
		for i, header := range headers {
			if strings.EqualFold(header, candidate) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("required column missing: tried %s", strings.Join(candidates, ", "))
}

func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
