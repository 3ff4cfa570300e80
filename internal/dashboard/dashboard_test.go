package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"covidboard/internal/covid"
	"covidboard/internal/eventbus"
	"covidboard/internal/news"
	"covidboard/internal/storage"
	logx "covidboard/pkg/logx"
)

type stubStats struct {
	series map[string]covid.Series
	err    error
	calls  int
}

func (s *stubStats) Fetch(_ context.Context, area, areaType string) (covid.Series, error) {
	s.calls++
	if s.err != nil {
		return covid.Series{}, s.err
	}
	return s.series[areaType+"/"+area], nil
}

type stubNews struct {
	articles []news.Article
	err      error
	terms    []string
	language string
}

func (s *stubNews) Headlines(_ context.Context, terms []string, language string) ([]news.Article, error) {
	s.terms, s.language = terms, language
	return s.articles, s.err
}

func n(v int) *int { return &v }

var fixedNow = time.Now().UTC().Truncate(time.Second)

func newService(t *testing.T, store storage.Store) (*Service, *stubStats, *stubNews) {
	t.Helper()
	st := &stubStats{series: map[string]covid.Series{
		"ltla/Exeter":    {Area: "Exeter", Days: []covid.Day{{NewCases: n(3)}, {NewCases: n(4)}}},
		"nation/England": {Area: "England", Days: []covid.Day{{NewCases: n(100), HospitalCases: n(50), CumDeaths: n(9)}}},
	}}
	nw := &stubNews{articles: []news.Article{{Title: "A"}, {Title: "B"}, {Title: "C"}}}
	svc := New(Config{Language: "en", MaxArticles: 2}, Deps{
		Log:   logx.Nop(),
		Stats: st,
		News:  nw,
		Store: store,
		Now:   func() time.Time { return fixedNow },
	})
	return svc, st, nw
}

func TestRefreshStatsAndNews(t *testing.T) {
	t.Parallel()
	svc, _, nw := newService(t, nil)
	ctx := context.Background()
	if err := svc.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	v := svc.View()
	if v.Stats.SevenDayRegion != 7 || v.Stats.SevenDayNation != 100 || v.Stats.HospitalCases != 50 {
		t.Fatalf("stats = %+v", v.Stats)
	}
	if len(v.Articles) != 2 {
		t.Fatalf("articles capped at %d, want 2", len(v.Articles))
	}
	if nw.language != "en" || len(nw.terms) != len(news.DefaultTerms) {
		t.Fatalf("news called with %v / %q", nw.terms, nw.language)
	}
}

func TestFailedRefreshKeepsCachedData(t *testing.T) {
	t.Parallel()
	svc, st, nw := newService(t, nil)
	ctx := context.Background()
	if err := svc.RefreshAll(ctx); err != nil {
		t.Fatal(err)
	}
	st.err = covid.ErrFetch
	nw.err = news.ErrFetch
	err := svc.RefreshAll(ctx)
	if !errors.Is(err, covid.ErrFetch) || !errors.Is(err, news.ErrFetch) {
		t.Fatalf("RefreshAll err = %v, want both fetch errors", err)
	}
	v := svc.View()
	if v.Stats.SevenDayRegion != 7 || len(v.Articles) != 2 {
		t.Fatalf("cached data lost: %+v", v)
	}
}

func TestDismissPersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	cfg := storage.Config{Driver: "file", Path: "/state/cb.db"}
	store, err := storage.OpenFS(fs, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	svc, _, _ := newService(t, store)
	ctx := context.Background()
	if err := svc.RefreshAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.Dismiss(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	v := svc.View()
	if len(v.Articles) != 2 || v.Articles[0].Title != "B" {
		t.Fatalf("after dismiss = %+v", v.Articles)
	}
	_ = store.Close()

	store, err = storage.OpenFS(fs, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	restarted := New(Config{MaxArticles: 2}, Deps{Store: store, Now: func() time.Time { return fixedNow }})
	if err := restarted.LoadCache(ctx); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	v = restarted.View()
	if v.Stats.SevenDayNation != 100 {
		t.Fatalf("stats not restored: %+v", v.Stats)
	}
	if len(v.Articles) != 2 || v.Articles[0].Title != "B" || v.Articles[1].Title != "C" {
		t.Fatalf("articles after restart = %+v", v.Articles)
	}
}

func TestImportCSV(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t, nil)
	svc.ImportCSV(context.Background(), covid.CSVSummary{SevenDayCases: 217000, HospitalCases: 7019, CumulativeDeaths: 141544})
	v := svc.View()
	if v.Stats.Nation != "England" || v.Stats.SevenDayNation != 217000 || v.Stats.CumulativeDeaths != 141544 {
		t.Fatalf("stats = %+v", v.Stats)
	}
	if !v.Stats.Available() {
		t.Fatal("imported stats not marked available")
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc := New(Config{}, Deps{
		Bus:   bus,
		Stats: &stubStats{err: errors.New("offline")},
		News:  &stubNews{articles: []news.Article{{Title: "A"}}},
		Now:   func() time.Time { return fixedNow },
	})
	ctx := context.Background()
	_ = svc.RefreshAll(ctx)
	_ = svc.Dismiss(ctx, "A")

	want := []string{EventRefreshFailed, EventNewsRefreshed, EventDismissed}
	for i, typ := range want {
		ev := <-events
		if ev.Type != typ {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, typ)
		}
	}
}
