package covid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func TestClientFetch(t *testing.T) {
	t.Parallel()
	var gotFilters, gotStructure string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/data" {
			http.NotFound(w, r)
			return
		}
		gotFilters = r.URL.Query().Get("filters")
		gotStructure = r.URL.Query().Get("structure")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"length":2,"data":[
			{"date":"2021-10-28","areaName":"England","newCasesBySpecimenDate":0,"hospitalCases":null,"cumDeaths28DaysByDeathDate":null},
			{"date":"2021-10-27","areaName":"England","newCasesBySpecimenDate":120,"hospitalCases":7000,"cumDeaths28DaysByDeathDate":141000}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	s, err := c.Fetch(context.Background(), "England", AreaNation)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotFilters != "areaType=nation;areaName=England" {
		t.Fatalf("filters = %q", gotFilters)
	}
	var structure map[string]string
	if err := json.Unmarshal([]byte(gotStructure), &structure); err != nil {
		t.Fatalf("structure not JSON: %v", err)
	}
	if _, ok := structure["hospitalCases"]; !ok {
		t.Fatalf("nation structure missing hospitalCases: %v", structure)
	}
	if len(s.Days) != 2 || s.Days[0].HospitalCases != nil || *s.Days[1].HospitalCases != 7000 {
		t.Fatalf("series = %+v", s)
	}
}

func TestClientFetchRegionStructure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("structure"), "hospitalCases") {
			t.Errorf("region request asked for hospital cases")
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, nil).Fetch(context.Background(), "Exeter", AreaLTLA); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestClientFetchErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "status", handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusBadGateway) }},
		{name: "no content", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }},
		{name: "bad json", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{")) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewClient(srv.URL, srv.Client()).Fetch(context.Background(), "Exeter", AreaLTLA)
			if !errors.Is(err, ErrFetch) {
				t.Fatalf("err = %v, want ErrFetch", err)
			}
		})
	}
}

func TestSevenDaySkipsLeadingZeroDays(t *testing.T) {
	t.Parallel()
	days := []Day{
		{NewCases: intp(0)},
		{NewCases: nil},
		{NewCases: intp(10)},
		{NewCases: intp(0)},
		{NewCases: intp(20)},
		{NewCases: intp(30)},
		{NewCases: intp(40)},
		{NewCases: intp(50)},
		{NewCases: intp(60)},
		{NewCases: intp(1000)},
	}
	if got := SevenDay(Series{Days: days}); got != 210 {
		t.Fatalf("SevenDay = %d, want 210", got)
	}
	if got := SevenDay(Series{}); got != 0 {
		t.Fatalf("SevenDay(empty) = %d", got)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	now := time.Date(2021, 10, 28, 12, 0, 0, 0, time.UTC)
	region := Series{Area: "Exeter", Days: []Day{{NewCases: intp(5)}, {NewCases: intp(6)}}}
	nation := Series{Area: "England", Days: []Day{
		{NewCases: intp(0)},
		{NewCases: intp(100), HospitalCases: intp(7019), CumDeaths: nil},
		{NewCases: intp(200), HospitalCases: intp(7000), CumDeaths: intp(141544)},
	}}
	rec := Summarize(region, nation, now)
	want := StatsRecord{
		Region: "Exeter", Nation: "England",
		SevenDayRegion: 11, SevenDayNation: 300,
		HospitalCases: 7019, CumulativeDeaths: 141544,
		FetchedAt: now,
	}
	if rec != want {
		t.Fatalf("Summarize = %+v\nwant %+v", rec, want)
	}
	if !rec.Available() || (StatsRecord{}).Available() {
		t.Fatal("Available mismatch")
	}
}
