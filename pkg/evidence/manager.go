package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atprouter/core/pkg/artifacts"
)

// Manager aggregates signature info and notarization records by pack id and,
// when a Store is configured, persists notarization records there so a
// later process can reload them by pack id.
type Manager struct {
	mu            sync.RWMutex
	notary        *Notary
	store         artifacts.Store
	signatures    map[string]*SignatureInfo
	notarizations map[string]*NotarizationRecord
	recordHashes  map[string]string // pack id -> content hash of its persisted record
}

// NewManager creates a signature manager backed by the given notary. store
// is optional; pass nil to keep notarizations in memory only.
func NewManager(notary *Notary, store artifacts.Store) *Manager {
	return &Manager{
		notary:        notary,
		store:         store,
		signatures:    make(map[string]*SignatureInfo),
		notarizations: make(map[string]*NotarizationRecord),
		recordHashes:  make(map[string]string),
	}
}

// Notarize signs and notarizes a pack, recording both the signature info
// and the notarization record under packID, and persisting the record's
// content-addressed blob (and its constituent files) if a Store is
// configured.
func (m *Manager) Notarize(ctx context.Context, packID string, files map[string][]byte, metadata map[string]interface{}) (*NotarizationRecord, error) {
	record, err := m.notary.NotarizePack(packID, files, metadata)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.signatures[packID] = record.SignatureInfo
	m.notarizations[packID] = record
	m.mu.Unlock()

	if m.store != nil {
		if err := m.persist(ctx, packID, files, record); err != nil {
			return record, err
		}
	}
	return record, nil
}

func (m *Manager) persist(ctx context.Context, packID string, files map[string][]byte, record *NotarizationRecord) error {
	for name, data := range files {
		if _, err := m.store.Store(ctx, data); err != nil {
			return fmt.Errorf("persist evidence file %q for pack %q: %w", name, packID, err)
		}
	}

	data, err := MarshalRecord(record)
	if err != nil {
		return fmt.Errorf("marshal notarization record: %w", err)
	}
	hash, err := m.store.Store(ctx, data)
	if err != nil {
		return fmt.Errorf("persist notarization record: %w", err)
	}

	m.mu.Lock()
	m.recordHashes[packID] = hash
	m.mu.Unlock()
	return nil
}

// SignatureFor returns the signature info recorded for a pack id, if any.
func (m *Manager) SignatureFor(packID string) (*SignatureInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signatures[packID]
	return s, ok
}

// NotarizationFor returns the notarization record recorded for a pack id.
func (m *Manager) NotarizationFor(packID string) (*NotarizationRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.notarizations[packID]
	return r, ok
}

// LoadNotarization reads a persisted notarization record back from the
// configured Store by pack id, independent of the in-process cache built
// up by Notarize.
func (m *Manager) LoadNotarization(ctx context.Context, packID string) (*NotarizationRecord, error) {
	m.mu.RLock()
	hash, ok := m.recordHashes[packID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load notarization record: no stored record for pack %q", packID)
	}

	data, err := m.store.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load notarization record: %w", err)
	}
	var record NotarizationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal notarization record: %w", err)
	}
	return &record, nil
}
