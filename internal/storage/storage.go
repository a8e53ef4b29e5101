package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"microcap_portfolio/internal/models"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current layout of the state file.
const SchemaVersion = "2.1"

// Store reads and writes the portfolio state file.
// It assumes a single writer: no lock is taken on the file.
type Store struct {
	Path string
	now  func() time.Time
}

// NewStore returns a Store for the given state file path.
func NewStore(path string) *Store {
	return &Store{Path: path, now: time.Now}
}

// Seed builds a fresh state with one zeroed position per configured ticker.
func Seed(positions []models.PositionConfig, capital decimal.Decimal, now time.Time) models.PortfolioState {
	s := models.PortfolioState{
		Version:   SchemaVersion,
		Capital:   capital,
		Positions: make(map[string]*models.StatePosition, len(positions)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range positions {
		s.Positions[p.Ticker] = seedPosition(p)
	}
	return s
}

func seedPosition(p models.PositionConfig) *models.StatePosition {
	return &models.StatePosition{
		Ticker:             p.Ticker,
		TargetWeight:       p.TargetWeight,
		TrailingStopPct:    p.Stops.TrailingPct,
		TrancheIndexFilled: -1,
		Notes:              p.Notes,
	}
}

// Load reads the state file, seeding it when missing.
//
// A corrupt file is not fatal: it is moved aside to <path>.corrupt-<ts> and a
// fresh state is seeded in its place. Tickers present in config but not in the
// file get a zeroed entry; entries for tickers no longer configured are kept.
func (s *Store) Load(positions []models.PositionConfig, capital decimal.Decimal) (models.PortfolioState, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("State file %s missing, seeding a fresh portfolio...", s.Path)
		return s.reseed(positions, capital)
	}
	if err != nil {
		return s.recoverUnreadable(positions, capital, err)
	}

	var st models.PortfolioState
	if err := json.Unmarshal(b, &st); err != nil || st.Positions == nil {
		if err == nil {
			err = errors.New("no positions object")
		}
		return s.recoverUnreadable(positions, capital, err)
	}

	updated := migrateState(&st)
	for _, p := range positions {
		if _, ok := st.Positions[p.Ticker]; !ok {
			log.Printf("INFO: Seeding state for newly configured ticker %s", p.Ticker)
			st.Positions[p.Ticker] = seedPosition(p)
			updated = true
		}
	}
	if updated {
		log.Printf("INFO: State upgraded to version %s. Saving...", st.Version)
		if err := s.Save(&st); err != nil {
			return st, err
		}
	}

	return st, nil
}

// recoverUnreadable moves an unreadable state file aside and seeds a fresh one.
func (s *Store) recoverUnreadable(positions []models.PositionConfig, capital decimal.Decimal, cause error) (models.PortfolioState, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", s.Path, s.now().Format("20060102T150405"))
	log.Printf("WARNING: State file %s is unreadable (%v). Moving it to %s and re-seeding.", s.Path, cause, backup)
	if rerr := os.Rename(s.Path, backup); rerr != nil {
		log.Printf("WARNING: Could not keep a copy of the corrupt state: %v", rerr)
	}
	st, err := s.reseed(positions, capital)
	if err != nil {
		return st, fmt.Errorf("re-seed unreadable state %s: %w", s.Path, err)
	}
	return st, nil
}

func (s *Store) reseed(positions []models.PositionConfig, capital decimal.Decimal) (models.PortfolioState, error) {
	st := Seed(positions, capital, s.now())
	if err := s.Save(&st); err != nil {
		return st, err
	}
	return st, nil
}

// migrateState handles schema evolution.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *models.PortfolioState) bool {
	updated := false

	// 1.x -> 2.0: tranche index starts at -1 (older files used 0 for "nothing filled")
	if s.Version < "2.0" {
		log.Println("INFO: Migrating state schema to 2.0")
		for _, p := range s.Positions {
			if p.Shares == 0 && p.TrancheIndexFilled == 0 && p.LastAction == nil {
				p.TrancheIndexFilled = -1
			}
		}
		s.Version = "2.0"
		updated = true
	}

	// 2.0 -> 2.1: a zero stop price meant "not armed"; it is now null
	if s.Version < "2.1" {
		log.Println("INFO: Migrating state schema to 2.1")
		for _, p := range s.Positions {
			if p.TrailingStopPrice != nil && !p.TrailingStopPrice.IsPositive() {
				p.TrailingStopPrice = nil
			}
		}
		s.Version = "2.1"
		updated = true
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
		updated = true
	}

	return updated
}

// Save writes the state using an atomic write pattern.
// 1. Write to a temporary file in the same directory.
// 2. Sync to ensure data is on disk.
// 3. Rename temporary file to destination (atomic operation).
func (s *Store) Save(st *models.PortfolioState) error {
	st.UpdatedAt = s.now()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile := s.Path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}

	// Force sync to disk to prevent data loss on power failure before rename
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}

	// Close explicitly before renaming (essential on Windows)
	f.Close()

	if err := os.Rename(tmpFile, s.Path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
