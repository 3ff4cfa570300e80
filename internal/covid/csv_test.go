package covid

import (
	"errors"
	"strings"
	"testing"
)

const sampleCSV = `areaCode,areaName,areaType,date,cumDailyNsoDeathsByDeathDate,hospitalCases,newCasesBySpecimenDate
E92000001,England,nation,2021-10-28,,7019,
E92000001,England,nation,2021-10-27,,6970,16130
E92000001,England,nation,2021-10-26,,7120,34000
E92000001,England,nation,2021-10-25,,7200,
E92000001,England,nation,2021-10-24,,7300,33000
E92000001,England,nation,2021-10-23,,7400,32000
E92000001,England,nation,2021-10-22,,7500,31000
E92000001,England,nation,2021-10-21,,7600,30000
E92000001,England,nation,2021-10-20,,7700,29000
E92000001,England,nation,2021-10-19,,7800,28000
E92000001,England,nation,2021-10-18,,7900,99999
E92000001,England,nation,2021-10-17,141544,8000,27000
`

func TestSummarizeCSV(t *testing.T) {
	t.Parallel()
	rows, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 13 {
		t.Fatalf("rows = %d, want 13", len(rows))
	}
	got, err := SummarizeCSV(rows)
	if err != nil {
		t.Fatalf("SummarizeCSV: %v", err)
	}
	// rows 3.. skip the empty 10-25 cell: 34000+33000+32000+31000+30000+29000+28000
	want := CSVSummary{SevenDayCases: 217000, HospitalCases: 7019, CumulativeDeaths: 141544}
	if got != want {
		t.Fatalf("SummarizeCSV = %+v, want %+v", got, want)
	}
}

func TestSummarizeCSVErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{name: "header only", in: "a,b,c,d,e,f,g\n"},
		{name: "short row", in: "a,b,c,d,e,f,g\n1,2,3\n"},
		{name: "non numeric", in: "a,b,c,d,e,f,g\nx,y,z,d,,many,1\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows, err := ParseCSV(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("ParseCSV: %v", err)
			}
			if _, err := SummarizeCSV(rows); !errors.Is(err, ErrCSV) {
				t.Fatalf("err = %v, want ErrCSV", err)
			}
		})
	}
}
