package migration

import (
	"path/filepath"
	"testing"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrantFor(text string) Migrant {
	return Migrant{
		Candidate:  gepacore.Candidate{Text: text, Fingerprint: fingerprint.Candidate(text)},
		Objectives: map[string]float64{gepacore.ObjQuality: 0.9},
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)
	q.Push(migrantFor("one"))
	q.Push(migrantFor("two"))
	q.Push(migrantFor("three"))

	items := q.DrainAll()
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Candidate.Text)
	assert.Equal(t, "three", items[1].Candidate.Text)
}

func TestQueueDrainIsNonBlockingAndClears(t *testing.T) {
	q := NewQueue(4)
	q.Push(migrantFor("a"))
	first := q.DrainAll()
	assert.Len(t, first, 1)
	second := q.DrainAll()
	assert.Empty(t, second)
}

func TestChanTransportRingTopology(t *testing.T) {
	tr := NewChanTransport(3, 8)
	require.NoError(t, tr.Send(0, migrantFor("from-0")))
	require.NoError(t, tr.Send(2, migrantFor("from-2")))

	assert.Empty(t, tr.Receive(2))
	got1 := tr.Receive(1)
	require.Len(t, got1, 1)
	assert.Equal(t, "from-0", got1[0].Candidate.Text)

	got0 := tr.Receive(0)
	require.Len(t, got0, 1)
	assert.Equal(t, "from-2", got0[0].Candidate.Text)
}

func TestFileTransportRoundTripAndBound(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewFileTransport(dir, 2, 2)
	require.NoError(t, err)

	require.NoError(t, tr.Send(0, migrantFor("m1")))
	require.NoError(t, tr.Send(0, migrantFor("m2")))
	require.NoError(t, tr.Send(0, migrantFor("m3"))) // exceeds cap of 2, drops m1

	got := tr.Receive(1)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].Candidate.Text)
	assert.Equal(t, "m3", got[1].Candidate.Text)

	// Receive drains; a second call sees nothing.
	assert.Empty(t, tr.Receive(1))
}

func TestFileTransportPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	tr1, err := NewFileTransport(dir, 2, 4)
	require.NoError(t, err)
	require.NoError(t, tr1.Send(0, migrantFor("persisted")))

	tr2, err := NewFileTransport(dir, 2, 4)
	require.NoError(t, err)
	got := tr2.Receive(1)
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].Candidate.Text)
}

type fakeDedup struct{ seen map[string]bool }

func (f fakeDedup) Contains(fp string) bool { return f.seen[fp] }

func TestManagerAdmitDedupsAndTagsOrigin(t *testing.T) {
	tr := NewChanTransport(2, 8)
	tr.Send(0, migrantFor("known"))
	tr.Send(0, migrantFor("new"))

	mgr := NewManager(1, tr)
	dedup := fakeDedup{seen: map[string]bool{fingerprint.Candidate("known"): true}}
	survivors := mgr.Admit(dedup)

	require.Len(t, survivors, 1)
	assert.Equal(t, "new", survivors[0].Text)
	assert.Equal(t, gepacore.OriginMigrant, survivors[0].Origin)
}

func TestManagerEmitBumpsHopCount(t *testing.T) {
	tr := NewChanTransport(2, 8)
	mgr := NewManager(0, tr)

	elites := []Migrant{migrantFor("elite-a")}
	mgr.Emit(elites)

	got := tr.Receive(1)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].HopCount)
	assert.Equal(t, 0, elites[0].HopCount, "Emit must not mutate the caller's slice")
}

func TestFileTransportInboxPathIsPerIsland(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewFileTransport(dir, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "island-1-inbox.jsonl"), tr.inboxPath(1))
}
