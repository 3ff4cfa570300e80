package covid

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column layout of the dashboard's nation CSV export:
// areaCode,areaName,areaType,date,cumDailyNsoDeathsByDeathDate,hospitalCases,newCasesBySpecimenDate
const (
	colDeaths   = 4
	colHospital = 5
	colCases    = 6
	csvColumns  = 7

	// the first two data rows are treated as incomplete
	csvSkipRows = 2
)

var ErrCSV = errors.New("invalid covid csv")

// CSVSummary is what SummarizeCSV extracts from an export.
type CSVSummary struct {
	SevenDayCases    int `json:"seven_day_cases"`
	HospitalCases    int `json:"hospital_cases"`
	CumulativeDeaths int `json:"cumulative_deaths"`
}

// ParseCSV reads all rows, header included.
func ParseCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCSV, err)
	}
	return rows, nil
}

// SummarizeCSV reduces parsed rows (newest first, header first):
//   - hospital cases come from the first data row;
//   - the seven-day sum skips two rows and then takes seven non-empty case
//     cells, stepping over empty ones;
//   - cumulative deaths are the first non-empty deaths cell.
func SummarizeCSV(rows [][]string) (CSVSummary, error) {
	if len(rows) < 2 {
		return CSVSummary{}, fmt.Errorf("%w: no data rows", ErrCSV)
	}
	data := rows[1:]
	for i, row := range data {
		if len(row) < csvColumns {
			return CSVSummary{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrCSV, i+2, len(row), csvColumns)
		}
	}

	var out CSVSummary
	var err error
	if out.HospitalCases, err = cell(data[0], colHospital); err != nil {
		return CSVSummary{}, fmt.Errorf("%w: row 2: %v", ErrCSV, err)
	}

	counted := 0
	for i := csvSkipRows; i < len(data) && counted < windowDays; i++ {
		if strings.TrimSpace(data[i][colCases]) == "" {
			continue
		}
		n, err := cell(data[i], colCases)
		if err != nil {
			return CSVSummary{}, fmt.Errorf("%w: row %d: %v", ErrCSV, i+2, err)
		}
		out.SevenDayCases += n
		counted++
	}

	for i, row := range data {
		if strings.TrimSpace(row[colDeaths]) == "" {
			continue
		}
		if out.CumulativeDeaths, err = cell(row, colDeaths); err != nil {
			return CSVSummary{}, fmt.Errorf("%w: row %d: %v", ErrCSV, i+2, err)
		}
		break
	}
	return out, nil
}

func cell(row []string, col int) (int, error) {
	v := strings.TrimSpace(row[col])
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("column %d: %q is not a number", col+1, v)
	}
	return n, nil
}
