package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"provisioner/internal/model"
)

// FileStore keeps every record in one JSON object keyed by order
// reference. Each mutation rewrites the whole file under mu.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(map[string]model.FailureRecord{}); err != nil {
			return nil, err
		}
		slog.Info("created failure file", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("stat failure file: %w", err)
	}

	return s, nil
}

func (s *FileStore) load() (map[string]model.FailureRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]model.FailureRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure file: %w", err)
	}

	records := map[string]model.FailureRecord{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		// Keep the unreadable file for inspection and start over.
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, fmt.Errorf("decode failure file: %w", err)
		}
		slog.Error("failure file unreadable, moved aside", "path", s.path, "moved_to", aside, "error", err)
		return map[string]model.FailureRecord{}, nil
	}
	return records, nil
}

func (s *FileStore) save(records map[string]model.FailureRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp failure file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp failure file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp failure file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp failure file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace failure file: %w", err)
	}
	return nil
}

func (s *FileStore) RecordFailure(ctx context.Context, ref, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest) (string, error) {
	now := s.now()
	key := keyFor(ref, now)
	if key != ref {
		slog.Warn("no order reference on failure, using synthetic key", "key", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return "", err
	}

	var prev *model.FailureRecord
	if p, ok := records[key]; ok {
		prev = &p
	}
	rec := merge(prev, key, message, category, snapshot, now)
	records[key] = rec

	if err := s.save(records); err != nil {
		return "", err
	}

	if prev != nil {
		slog.Warn("repeated failure recorded", "orderref", key, "retry_count", rec.RetryCount)
	}
	slog.Error("failure recorded", "orderref", key, "type", category, "error", message)
	return key, nil
}

func (s *FileStore) ListFailures(ctx context.Context, includeResolved bool) ([]model.FailureRecord, error) {
	s.mu.Lock()
	records, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	list := make([]model.FailureRecord, 0, len(records))
	for _, r := range records {
		if r.Resolved && !includeResolved {
			continue
		}
		list = append(list, r)
	}
	sortNewestFirst(list)
	return list, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) (*model.FailureRecord, error) {
	s.mu.Lock()
	records, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r, ok := records[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *FileStore) Resolve(ctx context.Context, ref, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}
	r, ok := records[ref]
	if !ok {
		slog.Warn("resolve of unknown failure", "orderref", ref)
		return false, nil
	}

	now := s.now()
	r.Resolved = true
	r.ResolvedTimestamp = &now
	r.ResolutionNote = note
	records[ref] = r

	if err := s.save(records); err != nil {
		return false, err
	}
	slog.Info("failure resolved", "orderref", ref)
	return true, nil
}

func (s *FileStore) Delete(ctx context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := records[ref]; !ok {
		slog.Warn("delete of unknown failure", "orderref", ref)
		return false, nil
	}
	delete(records, ref)

	if err := s.save(records); err != nil {
		return false, err
	}
	slog.Info("failure deleted", "orderref", ref)
	return true, nil
}

func (s *FileStore) Stats(ctx context.Context) (model.FailureStats, error) {
	list, err := s.ListFailures(ctx, true)
	if err != nil {
		return model.FailureStats{}, err
	}
	return model.ComputeStats(list), nil
}

func (s *FileStore) CleanupResolvedOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, ErrInvalidAge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return 0, err
	}

	before := cutoff(s.now(), days)
	removed := 0
	for ref, r := range records {
		if r.Resolved && resolvedAt(r).Before(before) {
			delete(records, ref)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.save(records); err != nil {
		return 0, err
	}
	slog.Info("cleaned up resolved failures", "removed", removed)
	return removed, nil
}
