package covid

import "time"

// StatsRecord holds the figures rendered on the dashboard.
type StatsRecord struct {
	Region           string    `json:"region"`
	Nation           string    `json:"nation"`
	SevenDayRegion   int       `json:"seven_day_region"`
	SevenDayNation   int       `json:"seven_day_nation"`
	HospitalCases    int       `json:"hospital_cases"`
	CumulativeDeaths int       `json:"cumulative_deaths"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// Available reports whether the record holds fetched data.
func (r StatsRecord) Available() bool { return !r.FetchedAt.IsZero() }

const windowDays = 7

// SevenDay sums new cases over the seven days following any leading run of
// zero-case days. The most recent days are usually incomplete and reported as
// zero, so they are skipped; a genuine zero at the head of the series is
// indistinguishable and is skipped too.
func SevenDay(s Series) int {
	sum, counted := 0, 0
	started := false
	for _, d := range s.Days {
		n := 0
		if d.NewCases != nil {
			n = *d.NewCases
		}
		if !started {
			if n == 0 {
				continue
			}
			started = true
		}
		sum += n
		counted++
		if counted == windowDays {
			break
		}
	}
	return sum
}

// latestHospital returns the first non-null hospital figure, newest first.
func latestHospital(s Series) int {
	for _, d := range s.Days {
		if d.HospitalCases != nil {
			return *d.HospitalCases
		}
	}
	return 0
}

func latestDeaths(s Series) int {
	for _, d := range s.Days {
		if d.CumDeaths != nil {
			return *d.CumDeaths
		}
	}
	return 0
}

// Summarize reduces the regional and national series to one record.
func Summarize(region, nation Series, now time.Time) StatsRecord {
	return StatsRecord{
		Region:           region.Area,
		Nation:           nation.Area,
		SevenDayRegion:   SevenDay(region),
		SevenDayNation:   SevenDay(nation),
		HospitalCases:    latestHospital(nation),
		CumulativeDeaths: latestDeaths(nation),
		FetchedAt:        now,
	}
}
