// Package snapshot implements periodic and on-shutdown persistence of
// the combined FSM + Session + P&L state. Writes marshal to a temp file
// followed by os.Rename for an atomic overwrite; loads use os.ReadFile
// plus a tolerant json.Unmarshal, so unknown fields in an older file
// don't break a newer binary reading it back.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Document is the on-disk shape: one entry per symbol, each holding the
// three serialized sub-states plus the write timestamp.
type Document struct {
	FSM       json.RawMessage `json:"fsm"`
	Session   json.RawMessage `json:"session"`
	Pnl       json.RawMessage `json:"pnl,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// file is the top-level persisted shape, keyed by symbol.
type file map[string]Document

// Store reads and writes the state file under dir.
type Store struct {
	path string
}

// NewStore builds a Store for dir/state.json, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dir, "state.json")}, nil
}

// Save atomically overwrites the state file with doc keyed by symbol,
// preserving any other symbols already present in the file.
func (s *Store) Save(symbol string, doc Document) error {
	existing, _ := s.readFile()
	if existing == nil {
		existing = make(file)
	}
	existing[symbol] = doc

	bs, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the persisted Document for symbol, if present.
func (s *Store) Load(symbol string) (*Document, error) {
	f, err := s.readFile()
	if err != nil {
		return nil, err
	}
	doc, ok := f[symbol]
	if !ok {
		return nil, fmt.Errorf("snapshot: no persisted state for symbol %q", symbol)
	}
	return &doc, nil
}

func (s *Store) readFile() (file, error) {
	bs, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(bs, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// SourceStates collects the serialized sub-states Save needs.
type SourceStates struct {
	FSM     json.RawMessage
	Session json.RawMessage
	Pnl     json.RawMessage
}

// RunPeriodic persists every interval and once more when stop fires,
// logging (but not panicking on) any write failure.
func RunPeriodic(stop <-chan struct{}, interval time.Duration, symbol string, store *Store, collect func() SourceStates) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	save := func() {
		st := collect()
		doc := Document{FSM: st.FSM, Session: st.Session, Pnl: st.Pnl, Timestamp: time.Now().UTC()}
		if err := store.Save(symbol, doc); err != nil {
			log.Error().Err(err).Msg("snapshot: write failed, continuing with in-memory state")
		}
	}

	for {
		select {
		case <-stop:
			save()
			return
		case <-ticker.C:
			save()
		}
	}
}
