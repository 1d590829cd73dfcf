package tabular

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// WriteWorkbook writes sheets into one .xlsx workbook, one worksheet per batch, and
// replaces path atomically. Cells are stored as strings, never as formulas.
func WriteWorkbook(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return errors.New("write workbook: no sheets")
	}
	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool, len(sheets))
	for i, s := range sheets {
		name := sheetName(s.Name, used)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("workbook sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("workbook sheet %q: %w", name, err)
		}
		if err := setRow(f, name, 1, s.Header); err != nil {
			return err
		}
		for r, rec := range s.Records {
			if err := setRow(f, name, r+2, rec); err != nil {
				return err
			}
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("render workbook: %w", err)
	}
	if err := WriteFileAtomicSameDir(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("workbook sheet %q row %d: %w", sheet, row, err)
	}
	return nil
}

// sheetName maps a batch name onto a unique legal worksheet name. Excel compares sheet
// names case-insensitively.
func sheetName(batch string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, batch)
	name = strings.Trim(name, "' ")
	if name == "" {
		name = "Sheet"
	}
	name = truncateRunes(name, maxSheetName)
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := "~" + strconv.Itoa(n)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// readXLSX returns the first worksheet of path as a header and data rows. Blank rows
// are dropped.
func readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, err
	}
	var rows [][]string
	for _, r := range all {
		if strings.TrimSpace(strings.Join(r, "")) == "" {
			continue
		}
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}
	header := rows[0]
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	return header, rows[1:], nil
}
