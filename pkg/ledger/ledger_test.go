package ledger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func appendRawLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func TestLedger_AddEntry_AssignsSequenceAndChains(t *testing.T) {
	l := NewLedger(10.0, WithClock(fixedClock(time.Unix(0, 0))))

	e1, err := l.AddEntry("tenant-a", "route_decision", 1.0, 0.5, 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, GenesisHash, e1.PreviousHash)

	e2, err := l.AddEntry("tenant-a", "route_decision", 1.0, 0.5, 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
}

func TestLedger_AddEntry_RejectsOverBudget(t *testing.T) {
	l := NewLedger(2.0)

	_, err := l.AddEntry("tenant-a", "route_decision", 1.0, 0.8, 1.0, nil)
	require.NoError(t, err)
	_, err = l.AddEntry("tenant-a", "route_decision", 1.0, 0.8, 1.0, nil)
	require.NoError(t, err)

	_, err = l.AddEntry("tenant-a", "route_decision", 1.0, 0.5, 1.0, nil)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 2, l.Length())

	status := l.BudgetStatus("tenant-a")
	assert.InDelta(t, 1.6, status.EpsilonUsed, 1e-9)
}

func TestLedger_BudgetIsolatedPerTenant(t *testing.T) {
	l := NewLedger(1.0)

	_, err := l.AddEntry("tenant-a", "e", 1.0, 0.9, 1.0, nil)
	require.NoError(t, err)

	_, err = l.AddEntry("tenant-b", "e", 1.0, 0.9, 1.0, nil)
	require.NoError(t, err)
}

func TestLedger_Verify_DetectsTamperedEntry(t *testing.T) {
	l := NewLedger(10.0)
	_, err := l.AddEntry("tenant-a", "e", 1.0, 0.1, 1.0, nil)
	require.NoError(t, err)
	_, err = l.AddEntry("tenant-a", "e", 2.0, 0.1, 1.0, nil)
	require.NoError(t, err)

	result := l.Verify()
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.EntriesChecked)

	l.entries[1].DPValue = 99.0
	result = l.Verify()
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.FirstError)
}

func TestLedger_DeterministicHash_RoundsFloatsTo6Decimals(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	l1 := NewLedger(10.0, WithClock(fixedClock(ts)), WithIDGenerator(func() string { return "dp-1" }))
	l2 := NewLedger(10.0, WithClock(fixedClock(ts)), WithIDGenerator(func() string { return "dp-1" }))

	e1, err := l1.AddEntry("tenant-a", "e", 0.123456789, 0.1, 1.0, map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	e2, err := l2.AddEntry("tenant-a", "e", 0.1234561, 0.1, 1.0, map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, e1.EntryHash, e2.EntryHash)
}

func TestLedger_Get_NotFound(t *testing.T) {
	l := NewLedger(10.0)
	_, err := l.Get(1)
	assert.Error(t, err)
}

func TestLedger_ExportNDJSON(t *testing.T) {
	l := NewLedger(10.0)
	_, err := l.AddEntry("tenant-a", "e", 1.0, 0.1, 1.0, nil)
	require.NoError(t, err)
	_, err = l.AddEntry("tenant-a", "e", 1.0, 0.1, 1.0, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, l.ExportNDJSON(&buf))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded Entry
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, uint64(1), decoded.Sequence)
}

func TestLedger_ExportJSON_IncludesIntegrity(t *testing.T) {
	l := NewLedger(10.0)
	_, err := l.AddEntry("tenant-a", "e", 1.0, 0.1, 1.0, nil)
	require.NoError(t, err)

	envelope := l.ExportJSON()
	assert.Equal(t, 1, envelope.TotalEntries)
	assert.True(t, envelope.LedgerIntegrity.Valid)
	assert.Len(t, envelope.Entries, 1)
}

func TestOpenFileLedger_RecoversAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dp.ndjson")

	l1, err := OpenFileLedger(path, 10.0)
	require.NoError(t, err)
	_, err = l1.AddEntry("tenant-a", "e", 1.0, 0.5, 1.0, nil)
	require.NoError(t, err)
	_, err = l1.AddEntry("tenant-a", "e", 1.0, 0.5, 1.0, nil)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := OpenFileLedger(path, 10.0)
	require.NoError(t, err)
	defer l2.Close()

	assert.Equal(t, 2, l2.Length())
	status := l2.BudgetStatus("tenant-a")
	assert.InDelta(t, 1.0, status.EpsilonUsed, 1e-9)

	_, err = l2.AddEntry("tenant-a", "e", 1.0, 0.4, 1.0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, l2.Length())
}

func TestOpenFileLedger_ResetsToGenesisOnCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dp.ndjson")

	l1, err := OpenFileLedger(path, 10.0)
	require.NoError(t, err)
	_, err = l1.AddEntry("tenant-a", "e", 1.0, 0.5, 1.0, nil)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	require.NoError(t, appendRawLine(path, "not json"))

	l2, err := OpenFileLedger(path, 10.0)
	require.NoError(t, err)
	defer l2.Close()

	assert.Equal(t, 0, l2.Length())
	assert.Equal(t, GenesisHash, l2.Head())
}
