package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"repliscope/domain/study"
)

// tableRows renders a table with the canonical column layout: article_id,
// study_id, p_value, then the grouping dimensions in sorted order.
func tableRows(table *study.Table) [][]string {
	dimensions := table.Dimensions()
	header := append([]string{"article_id", "study_id", "p_value"}, dimensions...)

	rows := make([][]string, 0, table.Len()+1)
	rows = append(rows, header)
	for _, obs := range table.Observations() {
		row := []string{
			obs.ArticleID,
			obs.StudyID,
			strconv.FormatFloat(obs.PValue, 'g', -1, 64),
		}
		for _, dimension := range dimensions {
			label, _ := obs.Group(dimension)
			row = append(row, label)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes a table to a CSV file.
func WriteCSV(table *study.Table, filePath string) error {
	if table == nil {
		return fmt.Errorf("table is required")
	}
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := csv.NewWriter(file).WriteAll(tableRows(table)); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// WriteXLSX writes a table to Sheet1 of an Excel file.
func WriteXLSX(table *study.Table, filePath string) error {
	if table == nil {
		return fmt.Errorf("table is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	for rowNum, row := range tableRows(table) {
		for colNum, cell := range row {
			cellName, err := excelize.CoordinatesToCellName(colNum+1, rowNum+1)
			if err != nil {
				return fmt.Errorf("failed to name cell (%d, %d): %w", colNum+1, rowNum+1, err)
			}
			if err := f.SetCellValue("Sheet1", cellName, cell); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cellName, err)
			}
		}
	}
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}
