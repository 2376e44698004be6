// Package storage holds the record sinks a crawl writes profiles to. Every
// sink upserts keyed by the profile's source URL, and fields a profile leaves
// empty never clear a value stored by an earlier run.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/models"
)

var ErrInvalidProfile = errors.New("invalid profile")

func validate(table string, p *models.Profile) error {
	if err := database.ValidateTableName(table); err != nil {
		return err
	}
	if problems := p.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(problems, ", "))
	}
	return nil
}

// merge overlays the non-empty fields of incoming onto stored.
func merge(stored, incoming *models.Profile) *models.Profile {
	out := *stored
	out.FullName = incoming.FullName
	out.ScrapedAt = incoming.ScrapedAt

	for _, field := range []string{
		models.FieldTitle, models.FieldOrgUnit, models.FieldTelephone, models.FieldEmail,
		models.FieldORCID, models.FieldGoogleScholarURL, models.FieldBriefIntroduction,
	} {
		if v := incoming.Get(field); v != "" {
			out.Set(field, v)
		}
	}
	if len(incoming.Position) > 0 {
		out.Position = append([]string(nil), incoming.Position...)
	}
	if incoming.Institution != "" {
		out.Institution = incoming.Institution
	}

	return &out
}

// FileSink keeps one JSON document per table under a directory, each a map
// from source URL to profile. Writes go through a temporary file and a rename.
type FileSink struct {
	mu     sync.Mutex
	dir    string
	tables map[string]map[string]*models.Profile
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FileSink{
		dir:    dir,
		tables: make(map[string]map[string]*models.Profile),
	}, nil
}

func (s *FileSink) Upsert(ctx context.Context, table string, p *models.Profile) (crawl.Outcome, error) {
	if err := validate(table, p); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load(table)
	if err != nil {
		return 0, err
	}

	outcome := crawl.OutcomeInserted
	next := *p
	next.Position = append([]string(nil), p.Position...)
	stored, exists := profiles[p.SourceURL]
	if exists {
		outcome = crawl.OutcomeUpdated
		next = *merge(stored, p)
	}
	profiles[p.SourceURL] = &next

	if err := s.save(table, profiles); err != nil {
		if exists {
			profiles[p.SourceURL] = stored
		} else {
			delete(profiles, p.SourceURL)
		}
		return 0, err
	}

	return outcome, nil
}

// Get returns the stored profile for sourceURL.
func (s *FileSink) Get(table, sourceURL string) (*models.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load(table)
	if err != nil {
		return nil, false, err
	}

	p, ok := profiles[sourceURL]
	if !ok {
		return nil, false, nil
	}
	c := *p
	return &c, true, nil
}

// List returns the stored profiles of table ordered by source URL.
func (s *FileSink) List(table string) ([]*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load(table)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*models.Profile, 0, len(keys))
	for _, k := range keys {
		c := *profiles[k]
		out = append(out, &c)
	}
	return out, nil
}

func (s *FileSink) path(table string) string {
	return filepath.Join(s.dir, table+".json")
}

// load must be called with s.mu held.
func (s *FileSink) load(table string) (map[string]*models.Profile, error) {
	if profiles, ok := s.tables[table]; ok {
		return profiles, nil
	}

	profiles := make(map[string]*models.Profile)
	data, err := os.ReadFile(s.path(table))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", s.path(table), err)
	default:
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", s.path(table), err)
		}
	}

	s.tables[table] = profiles
	return profiles, nil
}

func (s *FileSink) save(table string, profiles map[string]*models.Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}

	target := s.path(table)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	return nil
}
