// Package dashboard owns the data the page shows: the latest stats record,
// the latest headlines and the set of dismissed headlines. Its refresh methods
// are what scheduled updates and background ticks call.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"covidboard/internal/covid"
	"covidboard/internal/eventbus"
	"covidboard/internal/news"
	"covidboard/internal/storage"
	logx "covidboard/pkg/logx"
)

// StatsSource fetches daily case series.
type StatsSource interface {
	Fetch(ctx context.Context, area, areaType string) (covid.Series, error)
}

// NewsSource fetches language-filtered headlines.
type NewsSource interface {
	Headlines(ctx context.Context, terms []string, language string) ([]news.Article, error)
}

type Config struct {
	Region      string
	RegionType  string
	Nation      string
	Terms       []string
	Language    string
	MaxArticles int
	DismissTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Region) == "" {
		c.Region = "Exeter"
	}
	if strings.TrimSpace(c.RegionType) == "" {
		c.RegionType = covid.AreaLTLA
	}
	if strings.TrimSpace(c.Nation) == "" {
		c.Nation = "England"
	}
	if len(c.Terms) == 0 {
		c.Terms = news.DefaultTerms
	}
	if c.DismissTTL <= 0 {
		c.DismissTTL = 7 * 24 * time.Hour
	}
	return c
}

// View is the read-only state handed to renderers.
type View struct {
	Stats    covid.StatsRecord `json:"stats"`
	Articles []news.Article    `json:"articles"`
	NewsAt   time.Time         `json:"news_at"`
}

// Event types published on the bus. Data is an EventData.
const (
	EventStatsRefreshed = "stats.refreshed"
	EventNewsRefreshed  = "news.refreshed"
	EventRefreshFailed  = "refresh.failed"
	EventDismissed      = "news.dismissed"
	EventCSVImported    = "stats.imported"
)

type EventData struct {
	Target string `json:"target"` // "stats", "news" or a dismissed title
	Count  int    `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	stats StatsSource
	news  NewsSource
	store storage.Store
	now   func() time.Time

	mu        sync.RWMutex
	cfg       Config
	record    covid.StatsRecord
	articles  []news.Article
	newsAt    time.Time
	dismissed map[string]time.Time
}

// Deps groups the collaborators of a Service. Store and Bus may be nil.
type Deps struct {
	Log   logx.Logger
	Bus   eventbus.Bus
	Stats StatsSource
	News  NewsSource
	Store storage.Store
	Now   func() time.Time
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		log:       d.Log,
		bus:       d.Bus,
		stats:     d.Stats,
		news:      d.News,
		store:     d.Store,
		now:       d.Now,
		cfg:       cfg.withDefaults(),
		dismissed: map[string]time.Time{},
	}
}

// Apply swaps the fetch configuration; cached data stays until the next refresh.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// LoadCache restores the last snapshots and dismissals from storage.
func (s *Service) LoadCache(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var errs []error
	if snap, ok, err := s.store.GetSnapshot(ctx, storage.KeyStats); err != nil {
		errs = append(errs, fmt.Errorf("stats snapshot: %w", err))
	} else if ok {
		var rec covid.StatsRecord
		if err := json.Unmarshal(snap.Data, &rec); err != nil {
			errs = append(errs, fmt.Errorf("stats snapshot: %w", err))
		} else {
			s.mu.Lock()
			s.record = rec
			s.mu.Unlock()
		}
	}
	if snap, ok, err := s.store.GetSnapshot(ctx, storage.KeyNews); err != nil {
		errs = append(errs, fmt.Errorf("news snapshot: %w", err))
	} else if ok {
		var arts []news.Article
		if err := json.Unmarshal(snap.Data, &arts); err != nil {
			errs = append(errs, fmt.Errorf("news snapshot: %w", err))
		} else {
			s.mu.Lock()
			s.articles = arts
			s.newsAt = snap.At
			s.mu.Unlock()
		}
	}
	if d, err := s.store.Dismissed(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dismissed: %w", err))
	} else {
		s.mu.Lock()
		s.dismissed = d
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// RefreshStats fetches the regional and national series and replaces the
// cached record. On failure the previous record is kept.
func (s *Service) RefreshStats(ctx context.Context) error {
	if s.stats == nil {
		return errors.New("stats source not configured")
	}
	cfg := s.config()
	region, err := s.stats.Fetch(ctx, cfg.Region, cfg.RegionType)
	if err != nil {
		s.log.Warn("stats refresh failed; keeping cached data", logx.String("area", cfg.Region), logx.Err(err))
		s.publish(EventRefreshFailed, EventData{Target: "stats", Error: err.Error()})
		return err
	}
	nation, err := s.stats.Fetch(ctx, cfg.Nation, covid.AreaNation)
	if err != nil {
		s.log.Warn("stats refresh failed; keeping cached data", logx.String("area", cfg.Nation), logx.Err(err))
		s.publish(EventRefreshFailed, EventData{Target: "stats", Error: err.Error()})
		return err
	}
	rec := covid.Summarize(region, nation, s.now())
	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
	s.log.Info("stats refreshed",
		logx.String("region", rec.Region),
		logx.Int("seven_day_region", rec.SevenDayRegion),
		logx.Int("seven_day_nation", rec.SevenDayNation),
	)
	s.persist(ctx, storage.KeyStats, rec, rec.FetchedAt)
	s.publish(EventStatsRefreshed, EventData{Target: "stats"})
	return nil
}

// RefreshNews fetches headlines and replaces the cached list. On failure the
// previous list is kept.
func (s *Service) RefreshNews(ctx context.Context) error {
	if s.news == nil {
		return errors.New("news source not configured")
	}
	cfg := s.config()
	arts, err := s.news.Headlines(ctx, cfg.Terms, cfg.Language)
	if err != nil {
		s.log.Warn("news refresh failed; keeping cached articles", logx.Err(err))
		s.publish(EventRefreshFailed, EventData{Target: "news", Error: err.Error()})
		return err
	}
	at := s.now()
	s.mu.Lock()
	s.articles = arts
	s.newsAt = at
	s.mu.Unlock()
	s.log.Info("news refreshed", logx.Int("articles", len(arts)))
	s.persist(ctx, storage.KeyNews, arts, at)
	s.publish(EventNewsRefreshed, EventData{Target: "news", Count: len(arts)})
	return nil
}

// RefreshAll runs both refreshes; one failing does not stop the other.
func (s *Service) RefreshAll(ctx context.Context) error {
	return errors.Join(s.RefreshStats(ctx), s.RefreshNews(ctx))
}

// ImportCSV overwrites the national figures with an offline CSV summary.
func (s *Service) ImportCSV(ctx context.Context, sum covid.CSVSummary) {
	cfg := s.config()
	s.mu.Lock()
	rec := s.record
	if rec.Nation == "" {
		rec.Nation = cfg.Nation
	}
	if rec.Region == "" {
		rec.Region = cfg.Region
	}
	rec.SevenDayNation = sum.SevenDayCases
	rec.HospitalCases = sum.HospitalCases
	rec.CumulativeDeaths = sum.CumulativeDeaths
	rec.FetchedAt = s.now()
	s.record = rec
	s.mu.Unlock()
	s.persist(ctx, storage.KeyStats, rec, rec.FetchedAt)
	s.publish(EventCSVImported, EventData{Target: "stats"})
}

// Dismiss hides a headline by title.
func (s *Service) Dismiss(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	until := s.now().Add(s.config().DismissTTL)
	s.mu.Lock()
	s.dismissed[title] = until
	s.mu.Unlock()
	s.log.Info("article dismissed", logx.String("title", title))
	s.publish(EventDismissed, EventData{Target: title})
	if s.store == nil {
		return nil
	}
	return s.store.Dismiss(ctx, title, until)
}

// View returns the current stats and the visible headlines.
func (s *Service) View() View {
	cfg := s.config()
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	hidden := make(map[string]struct{}, len(s.dismissed))
	for t, until := range s.dismissed {
		if until.After(now) {
			hidden[t] = struct{}{}
		}
	}
	return View{
		Stats:    s.record,
		Articles: news.Visible(s.articles, hidden, cfg.MaxArticles),
		NewsAt:   s.newsAt,
	}
}

func (s *Service) persist(ctx context.Context, key string, v any, at time.Time) {
	if s.store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("snapshot encode failed", logx.String("key", key), logx.Err(err))
		return
	}
	if err := s.store.PutSnapshot(ctx, storage.Snapshot{Key: key, At: at, Data: b}); err != nil {
		s.log.Warn("snapshot write failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) publish(typ string, data EventData) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
