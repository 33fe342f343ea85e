// Package ledger implements the differential-privacy event ledger: an
// append-only, hash-chained log of DP exposures with per-tenant ε-budget
// enforcement.
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/atprouter/core/pkg/canonicalize"
)

// GenesisHash is the previous-hash of the first entry: 64 zero hex nibbles.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable, hash-chained DP-ledger record.
type Entry struct {
	EntryID      string                 `json:"entry_id"`
	Tenant       string                 `json:"tenant"`
	EventType    string                 `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	DPValue      float64                `json:"dp_value"`
	EpsilonUsed  float64                `json:"epsilon_used"`
	Sensitivity  float64                `json:"sensitivity"`
	Sequence     uint64                 `json:"sequence"`
	PreviousHash string                 `json:"previous_hash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	EntryHash    string                 `json:"entry_hash"`
}

// ErrBudgetExceeded is returned when an entry would push a tenant's
// accumulated ε over its configured maximum.
var ErrBudgetExceeded = fmt.Errorf("ledger: epsilon budget exceeded")

// BudgetStatus reports a tenant's ε consumption.
type BudgetStatus struct {
	Tenant      string  `json:"tenant"`
	EpsilonUsed float64 `json:"epsilon_used"`
	EpsilonMax  float64 `json:"epsilon_max"`
	Remaining   float64 `json:"epsilon_remaining"`
	Utilization float64 `json:"utilization"`
}

// IntegrityResult is the outcome of a full chain walk.
type IntegrityResult struct {
	Valid          bool     `json:"valid"`
	EntriesChecked int      `json:"entries_checked"`
	CorruptEntries []uint64 `json:"corrupt_entries,omitempty"`
	FirstError     string   `json:"first_error,omitempty"`
}

// ExportEnvelope wraps an export with integrity metadata.
type ExportEnvelope struct {
	ExportTimestamp time.Time       `json:"export_timestamp"`
	TotalEntries    int             `json:"total_entries"`
	LedgerIntegrity IntegrityResult `json:"ledger_integrity"`
	Entries         []Entry         `json:"entries"`
}

// BudgetExceededCounter receives a callback whenever an add_entry call is
// rejected for exceeding a tenant's ε budget.
type BudgetExceededCounter interface {
	IncBudgetExceeded(tenant string)
}

type noopCounter struct{}

func (noopCounter) IncBudgetExceeded(string) {}

// Ledger is an append-only, hash-chained DP event log with an in-memory
// per-tenant ε accumulator.
type Ledger struct {
	mu         sync.Mutex
	entries    []Entry
	lastHash   string
	epsilonMax float64
	epsilon    map[string]float64
	sequence   uint64
	clock      func() time.Time
	idGen      func() string
	counter    BudgetExceededCounter
	path       string
	file       *os.File
	sink       SQLSink
}

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp entries (for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithIDGenerator overrides entry-id generation (for tests).
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.idGen = gen }
}

// WithBudgetExceededCounter wires a metrics callback fired on rejection.
func WithBudgetExceededCounter(c BudgetExceededCounter) Option {
	return func(l *Ledger) { l.counter = c }
}

// SQLSink receives every appended entry for durable storage in a
// database/sql backend (see SQLStore). Append is called synchronously
// inside AddEntry's lock; a slow sink slows down ledger writes.
type SQLSink interface {
	Append(ctx context.Context, entry Entry) error
}

// WithSQLSink wires a durable SQL-backed mirror of the ledger. Use together
// with NewLedgerFromEntries to recover prior state on restart.
func WithSQLSink(sink SQLSink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// NewLedgerFromEntries reconstructs a Ledger's chain and ε-accumulator from
// a previously persisted entry slice (ordered by sequence), for recovering
// state from a SQLStore on process restart.
func NewLedgerFromEntries(entries []Entry, epsilonMax float64, opts ...Option) *Ledger {
	l := NewLedger(epsilonMax, opts...)
	l.entries = append([]Entry(nil), entries...)
	for _, e := range entries {
		l.lastHash = e.EntryHash
		l.sequence = e.Sequence
		l.epsilon[e.Tenant] += e.EpsilonUsed
	}
	return l
}

// NewLedger creates an in-memory DP ledger with the given per-tenant ε cap.
func NewLedger(epsilonMax float64, opts ...Option) *Ledger {
	l := &Ledger{
		lastHash:   GenesisHash,
		epsilonMax: epsilonMax,
		epsilon:    make(map[string]float64),
		clock:      time.Now,
		idGen:      nil,
		counter:    noopCounter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenFileLedger creates a DP ledger backed by an NDJSON append log at path,
// recovering state by replaying any existing entries.
func OpenFileLedger(path string, epsilonMax float64, opts ...Option) (*Ledger, error) {
	l := NewLedger(epsilonMax, opts...)
	l.path = path

	if err := l.recover(path); err != nil {
		return nil, err
	}

	//nolint:gosec // G302: append-only ledger file, 0644 is intentional
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open log for append: %w", err)
	}
	l.file = f

	return l, nil
}

// recover reads the log sequentially, rebuilding sequence, last-hash, and
// per-tenant ε consumption. A parse failure resets to genesis state; the
// corrupt log is left on disk for forensic analysis.
func (l *Ledger) recover(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is operator-supplied config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: failed to open log for recovery: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close

	var recovered []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.resetToGenesis(fmt.Sprintf("corrupt ledger entry during recovery: %v", err))
			return nil
		}
		recovered = append(recovered, entry)
	}
	if err := scanner.Err(); err != nil {
		l.resetToGenesis(fmt.Sprintf("ledger scan failed during recovery: %v", err))
		return nil
	}

	l.entries = recovered
	l.lastHash = GenesisHash
	l.sequence = 0
	l.epsilon = make(map[string]float64)
	for _, e := range recovered {
		l.lastHash = e.EntryHash
		l.sequence = e.Sequence
		l.epsilon[e.Tenant] += e.EpsilonUsed
	}
	return nil
}

// resetToGenesis discards in-memory state and logs the corruption loudly.
// The prior log file on disk, if any, is left untouched.
func (l *Ledger) resetToGenesis(reason string) {
	fmt.Fprintf(os.Stderr, "ledger: state corruption detected, resetting to genesis: %s\n", reason)
	l.entries = nil
	l.lastHash = GenesisHash
	l.sequence = 0
	l.epsilon = make(map[string]float64)
}

// AddEntry appends a DP exposure event for tenant, enforcing the per-tenant
// ε budget. Rejected entries are not persisted and do not advance the chain.
func (l *Ledger) AddEntry(tenant, eventType string, dpValue, epsilonUsed, sensitivity float64, metadata map[string]interface{}) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.epsilon[tenant]+epsilonUsed > l.epsilonMax {
		l.counter.IncBudgetExceeded(tenant)
		return nil, ErrBudgetExceeded
	}

	seq := l.sequence + 1
	entry := Entry{
		EntryID:      l.nextID(seq),
		Tenant:       tenant,
		EventType:    eventType,
		Timestamp:    l.clock().UTC(),
		DPValue:      dpValue,
		EpsilonUsed:  epsilonUsed,
		Sensitivity:  sensitivity,
		Sequence:     seq,
		PreviousHash: l.lastHash,
		Metadata:     metadata,
	}
	hash, err := computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to hash entry: %w", err)
	}
	entry.EntryHash = hash

	if l.file != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to marshal entry: %w", err)
		}
		if _, err := l.file.Write(append(raw, '\n')); err != nil {
			return nil, fmt.Errorf("ledger: failed to append entry: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return nil, fmt.Errorf("ledger: failed to sync entry: %w", err)
		}
	}

	if l.sink != nil {
		if err := l.sink.Append(context.Background(), entry); err != nil {
			return nil, fmt.Errorf("ledger: failed to persist entry to sql sink: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	l.lastHash = entry.EntryHash
	l.sequence = seq
	l.epsilon[tenant] += epsilonUsed

	return &entry, nil
}

func (l *Ledger) nextID(seq uint64) string {
	if l.idGen != nil {
		return l.idGen()
	}
	return fmt.Sprintf("dp-%d", seq)
}

// canonicalEntry is the subset of Entry fields hashed per spec: metadata
// keys sorted, numeric fields rounded to 6 decimal places, timestamp as an
// ISO-8601 string.
type canonicalEntry struct {
	EntryID      string                 `json:"entry_id"`
	Tenant       string                 `json:"tenant"`
	EventType    string                 `json:"event_type"`
	Timestamp    string                 `json:"timestamp"`
	DPValue      float64                `json:"dp_value"`
	EpsilonUsed  float64                `json:"epsilon_used"`
	Sensitivity  float64                `json:"sensitivity"`
	Sequence     uint64                 `json:"sequence"`
	PreviousHash string                 `json:"previous_hash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// computeEntryHash hashes the canonical subset of fields per spec: metadata
// keys sorted, numeric fields rounded to 6 decimal places, timestamp as an
// ISO-8601 string, via RFC 8785 JSON canonicalization.
func computeEntryHash(e Entry) (string, error) {
	c := canonicalEntry{
		EntryID:      e.EntryID,
		Tenant:       e.Tenant,
		EventType:    e.EventType,
		Timestamp:    e.Timestamp.Format(time.RFC3339Nano),
		DPValue:      round6(e.DPValue),
		EpsilonUsed:  round6(e.EpsilonUsed),
		Sensitivity:  round6(e.Sensitivity),
		Sequence:     e.Sequence,
		PreviousHash: e.PreviousHash,
		Metadata:     e.Metadata,
	}
	return canonicalize.CanonicalHash(c)
}

// Verify walks the full chain, checking previous-hash linkage and
// recomputed entry hashes.
func (l *Ledger) Verify() IntegrityResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := IntegrityResult{Valid: true}
	prevHash := GenesisHash
	for _, entry := range l.entries {
		result.EntriesChecked++
		if entry.PreviousHash != prevHash {
			result.Valid = false
			result.CorruptEntries = append(result.CorruptEntries, entry.Sequence)
			if result.FirstError == "" {
				result.FirstError = fmt.Sprintf("entry %d: previous_hash mismatch", entry.Sequence)
			}
			prevHash = entry.EntryHash
			continue
		}
		recomputed, err := computeEntryHash(entry)
		if err != nil || recomputed != entry.EntryHash {
			result.Valid = false
			result.CorruptEntries = append(result.CorruptEntries, entry.Sequence)
			if result.FirstError == "" {
				result.FirstError = fmt.Sprintf("entry %d: entry_hash mismatch", entry.Sequence)
			}
		}
		prevHash = entry.EntryHash
	}
	return result
}

// BudgetStatus returns ε consumption for tenant.
func (l *Ledger) BudgetStatus(tenant string) BudgetStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	used := l.epsilon[tenant]
	status := BudgetStatus{
		Tenant:      tenant,
		EpsilonUsed: used,
		EpsilonMax:  l.epsilonMax,
		Remaining:   l.epsilonMax - used,
	}
	if l.epsilonMax > 0 {
		status.Utilization = used / l.epsilonMax
	}
	return status
}

// Head returns the hash of the most recently appended entry, or
// GenesisHash if the ledger is empty.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Length returns the number of entries in the ledger.
func (l *Ledger) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Get retrieves an entry by sequence number (1-indexed).
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("ledger: entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// ExportNDJSON writes one JSON object per line to w.
func (l *Ledger) ExportNDJSON(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("ledger: export marshal failed: %w", err)
		}
		if _, err := w.Write(append(raw, '\n')); err != nil {
			return fmt.Errorf("ledger: export write failed: %w", err)
		}
	}
	return nil
}

// ExportJSON returns the full envelope: timestamp, count, integrity
// result, and all entries.
func (l *Ledger) ExportJSON() ExportEnvelope {
	integrity := l.Verify()

	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)

	return ExportEnvelope{
		ExportTimestamp: l.clock().UTC(),
		TotalEntries:    len(entries),
		LedgerIntegrity: integrity,
		Entries:         entries,
	}
}

// Close flushes and closes the backing file, if any.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
