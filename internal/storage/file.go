package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "covidboard/pkg/logx"
)

// fileStore keeps everything in plain files.
//
// Files:
//   - <prefix>.audit.jsonl             (append-only JSON Lines)
//   - <prefix>.<key>.json              (one cached snapshot per key)
//   - <prefix>.dismissed.snapshot.json (periodic snapshot)
//   - <prefix>.dismissed.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	fs     afero.Fs
	log    logx.Logger
	prefix string

	mu sync.Mutex

	auditFile afero.File

	dismissedSnapshotPath string
	dismissedJournalFile  afero.File
	dismissed             map[string]int64 // unix milli

	dismissedWrites int
}

type dismissRecord struct {
	Title string `json:"title"`
	Until int64  `json:"until"`
}

const compactEvery = 200

func openFile(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".dismissed.snapshot.json"
	journalPath := prefix + ".dismissed.journal.jsonl"

	af, err := fs.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	dismissed := map[string]int64{}
	_ = loadDismissedSnapshot(fs, snapPath, dismissed)
	_ = replayDismissedJournal(fs, journalPath, dismissed)
	pruneExpired(dismissed, time.Now())

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("dismissed", len(dismissed)))
	return &fileStore{
		fs:                    fs,
		log:                   log,
		prefix:                prefix,
		auditFile:             af,
		dismissedSnapshotPath: snapPath,
		dismissedJournalFile:  jf,
		dismissed:             dismissed,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.dismissedJournalFile != nil {
		err2 = s.dismissedJournalFile.Close()
		s.dismissedJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) snapshotPath(key string) string {
	return s.prefix + "." + key + ".json"
}

func (s *fileStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	_ = ctx
	key := strings.TrimSpace(snap.Key)
	if !validKey(key) {
		return errors.New("invalid snapshot key: " + snap.Key)
	}
	if snap.At.IsZero() {
		snap.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.fs, s.snapshotPath(key), snap)
}

func (s *fileStore) GetSnapshot(ctx context.Context, key string) (Snapshot, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if !validKey(key) {
		return Snapshot{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fs.Open(s.snapshotPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	defer f.Close()
	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *fileStore) Dismiss(ctx context.Context, title string, until time.Time) error {
	_ = ctx
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissedJournalFile == nil {
		return errors.New("dismissed journal closed")
	}
	s.dismissed[title] = ms

	if err := json.NewEncoder(s.dismissedJournalFile).Encode(dismissRecord{Title: title, Until: ms}); err != nil {
		return err
	}
	s.dismissedWrites++
	if s.dismissedWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dismissed compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Dismissed(ctx context.Context) (map[string]time.Time, error) {
	_ = ctx
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.dismissed))
	for k, v := range s.dismissed {
		if v >= now {
			out[k] = time.UnixMilli(v)
		}
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpired(s.dismissed, time.Now())
	if err := writeJSONAtomic(s.fs, s.dismissedSnapshotPath, s.dismissed); err != nil {
		return err
	}
	if err := s.dismissedJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dismissedJournalFile.Seek(0, io.SeekEnd)
	return err
}

func writeJSONAtomic(fs afero.Fs, path string, v any) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, path)
}

func loadDismissedSnapshot(fs afero.Fs, path string, out map[string]int64) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDismissedJournal(fs afero.Fs, path string, out map[string]int64) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dismissRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Title == "" {
			continue
		}
		out[r.Title] = r.Until
	}
	return sc.Err()
}

func pruneExpired(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
