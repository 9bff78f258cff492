package scan

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Summary"
	sheetSeverity = "Severity"
	sheetSymptoms = "Symptoms"
	sheetDaily    = "Last 7 Days"
	sheetPatients = "Patients"
)

// ExportStats renders the current snapshot as an xlsx workbook.
func (s *Service) ExportStats(ctx context.Context) ([]byte, error) {
	snap, err := s.GlobalStats(ctx)
	if err != nil {
		return nil, err
	}
	return WriteSnapshotXLSX(snap)
}

// WriteSnapshotXLSX lays out one sheet per section of the snapshot. Map
// sections are sorted by count descending, then label.
func WriteSnapshotXLSX(snap *Snapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetSummary)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	tables := []struct {
		sheet   string
		headers []string
		rows    [][]interface{}
	}{
		{sheetSummary, []string{"Metric", "Value"}, [][]interface{}{
			{"Total scans", snap.TotalScans},
			{"Urgent cases", snap.UrgentCases},
			{"Pending cases", snap.PendingCases},
			{"Unique patients", len(snap.Patients)},
			{"Average confidence", snap.AverageConfidence},
		}},
		{sheetSeverity, []string{"Diagnosis", "Scans"}, countRows(snap.SeverityDistribution)},
		{sheetSymptoms, []string{"Symptom", "Scans"}, countRows(snap.SymptomFrequency)},
		{sheetDaily, []string{"Date", "Scans"}, dailyRows(snap.Last7Days)},
		{sheetPatients, []string{"ID", "Name", "Email"}, patientRows(snap.Patients)},
	}

	for _, t := range tables {
		if t.sheet != sheetSummary {
			if _, err := f.NewSheet(t.sheet); err != nil {
				return nil, fmt.Errorf("create sheet %s: %w", t.sheet, err)
			}
		}
		if err := writeTable(f, t.sheet, header, t.headers, t.rows); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, style int, headers []string, rows [][]interface{}) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header %s!%s: %w", sheet, cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("style header %s!%s: %w", sheet, cell, err)
		}
	}
	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("set cell %s!%s: %w", sheet, cell, err)
			}
		}
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 24)
}

func countRows(m map[string]int) [][]interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	rows := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []interface{}{k, m[k]})
	}
	return rows
}

func dailyRows(h Histogram) [][]interface{} {
	rows := make([][]interface{}, 0, len(h))
	for _, d := range h {
		rows = append(rows, []interface{}{d.Date, d.Count})
	}
	return rows
}

func patientRows(ps []PatientSummary) [][]interface{} {
	rows := make([][]interface{}, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, []interface{}{p.ID.String(), p.FullName, p.Email})
	}
	return rows
}
