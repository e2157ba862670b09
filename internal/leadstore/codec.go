package leadstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// writeAtomic writes through a temp file in the target directory and renames
// it over path, so readers never see a half-written file.
func writeAtomic(path string, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if info, statErr := os.Stat(path); statErr == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

type csvCodec struct{}

func (csvCodec) read(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return rows, nil
}

func (csvCodec) write(path string, rows [][]string) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		return nil
	})
}

// xlsxCodec reads the first sheet, or Sheet when set. Writes go through the
// original workbook so other sheets and cell styles are preserved; only cells
// whose text differs are set.
type xlsxCodec struct {
	Sheet string
}

func (c *xlsxCodec) sheet(f *excelize.File) (string, error) {
	if c.Sheet != "" {
		if idx, err := f.GetSheetIndex(c.Sheet); err != nil || idx < 0 {
			return "", fmt.Errorf("sheet %q not found", c.Sheet)
		}
		return c.Sheet, nil
	}
	list := f.GetSheetList()
	if len(list) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	return list[0], nil
}

func (c *xlsxCodec) read(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err := c.sheet(f)
	if err != nil {
		return nil, err
	}
	// Raw values keep dates as serial numbers instead of locale formatting.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func (c *xlsxCodec) write(path string, rows [][]string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet, err := c.sheet(f)
	if err != nil {
		return err
	}
	current, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	for r, row := range rows {
		for col, val := range row {
			if r < len(current) && col < len(current[r]) && current[r][col] == val {
				continue
			}
			if r >= len(current) || col >= len(current[r]) {
				if val == "" {
					continue
				}
			}
			cell, err := excelize.CoordinatesToCellName(col+1, r+1)
			if err != nil {
				return err
			}
			if err := setCell(f, sheet, cell, val); err != nil {
				return fmt.Errorf("setting %s: %w", cell, err)
			}
		}
	}

	return writeAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

// setCell keeps counters numeric so spreadsheet formulas over them work.
func setCell(f *excelize.File, sheet, cell, val string) error {
	if n, err := strconv.Atoi(val); err == nil {
		return f.SetCellInt(sheet, cell, int64(n))
	}
	return f.SetCellStr(sheet, cell, val)
}
