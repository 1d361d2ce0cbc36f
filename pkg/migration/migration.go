// Package migration implements the ring-topology, non-blocking elite
// exchange between islands (spec.md §4.9). Each island owns one bounded
// inbox; there is no separate outbox, so a send goes straight into the
// ring successor's inbox. Sends never block and drop the oldest queued
// migrant on overflow (spec.md §7: QueueFull).
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/sourcegraph/conc/pool"
)

// Migrant is a serialized elite crossing island boundaries: text plus
// its objective snapshot (spec.md §4.9: "serializes them (text +
// objective snapshot)").
type Migrant struct {
	Candidate  gepacore.Candidate `json:"candidate"`
	Objectives map[string]float64 `json:"objectives"`
	HopCount   int                `json:"hop_count"`
}

// Dedup reports whether a fingerprint is already known to the local
// Cache or Archive.
type Dedup interface {
	Contains(fingerprint string) bool
}

// Queue is a bounded, drop-oldest FIFO. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	limit int
	items []Migrant
}

// NewQueue builds a Queue that holds at most limit migrants.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Push enqueues m, dropping the oldest entry if the queue is full.
func (q *Queue) Push(m Migrant) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
	}
	q.items = append(q.items, m)
}

// DrainAll removes and returns every queued migrant (non-blocking).
func (q *Queue) DrainAll() []Migrant {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Transport moves migrants from a sending island toward its ring
// successor and lets any island drain its own inbox.
type Transport interface {
	Send(fromIsland int, m Migrant) error
	Receive(islandID int) []Migrant
}

// ChanTransport is an in-process Transport for same-process
// multi-island tests and single-binary deployments: each island's
// inbox is a bounded Queue, and the ring topology maps island i to
// island (i+1) mod n.
type ChanTransport struct {
	n       int
	inboxes []*Queue
}

// NewChanTransport builds a ChanTransport for n islands, each inbox
// bounded to queueLimit.
func NewChanTransport(n, queueLimit int) *ChanTransport {
	inboxes := make([]*Queue, n)
	for i := range inboxes {
		inboxes[i] = NewQueue(queueLimit)
	}
	return &ChanTransport{n: n, inboxes: inboxes}
}

func (t *ChanTransport) Send(fromIsland int, m Migrant) error {
	if t.n == 0 {
		return nil
	}
	to := (fromIsland + 1) % t.n
	t.inboxes[to].Push(m)
	return nil
}

func (t *ChanTransport) Receive(islandID int) []Migrant {
	if islandID < 0 || islandID >= t.n {
		return nil
	}
	return t.inboxes[islandID].DrainAll()
}

// FileTransport is a directory-of-append-only-files Transport: each
// island's inbox is a JSON-Lines file that separate island processes
// can append to and drain independently, grounded on the ring-topology
// migration Design Notes' file-based transport suggestion.
type FileTransport struct {
	mu       sync.Mutex
	dir      string
	n        int
	queueCap int
}

// NewFileTransport builds a FileTransport rooted at dir for n islands.
func NewFileTransport(dir string, n, queueLimit int) (*FileTransport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if queueLimit <= 0 {
		queueLimit = 1
	}
	return &FileTransport{dir: dir, n: n, queueCap: queueLimit}, nil
}

func (t *FileTransport) inboxPath(islandID int) string {
	return filepath.Join(t.dir, fmt.Sprintf("island-%d-inbox.jsonl", islandID))
}

func (t *FileTransport) Send(fromIsland int, m Migrant) error {
	if t.n == 0 {
		return nil
	}
	to := (fromIsland + 1) % t.n
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing := t.readLocked(to)
	if len(existing) >= t.queueCap {
		existing = existing[len(existing)-t.queueCap+1:]
	}
	existing = append(existing, string(data))
	return os.WriteFile(t.inboxPath(to), []byte(joinLines(existing)), 0o644)
}

func (t *FileTransport) Receive(islandID int) []Migrant {
	t.mu.Lock()
	lines := t.readLocked(islandID)
	_ = os.Remove(t.inboxPath(islandID))
	t.mu.Unlock()

	out := make([]Migrant, 0, len(lines))
	for _, line := range lines {
		var m Migrant
		if err := json.Unmarshal([]byte(line), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *FileTransport) readLocked(islandID int) []string {
	data, err := os.ReadFile(t.inboxPath(islandID))
	if err != nil {
		return nil
	}
	return splitLines(string(data))
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Manager drives one island's migration lifecycle each round it is
// invoked on: draining and admitting incoming migrants, and emitting
// this island's top elites toward its ring successor.
type Manager struct {
	islandID  int
	transport Transport
}

// NewManager builds a Manager for islandID over transport.
func NewManager(islandID int, transport Transport) *Manager {
	return &Manager{islandID: islandID, transport: transport}
}

// Admit drains the inbox, drops migrants whose fingerprint is already
// known locally, and returns the survivors as fresh rung-0 candidates
// (spec.md §4.9 step 1). HopCount is bumped by Emit on the sending
// side, not here.
func (m *Manager) Admit(dedup Dedup) []gepacore.Candidate {
	incoming := m.transport.Receive(m.islandID)
	survivors := make([]gepacore.Candidate, 0, len(incoming))
	for _, mg := range incoming {
		if dedup != nil && dedup.Contains(mg.Candidate.Fingerprint) {
			continue
		}
		c := mg.Candidate
		c.Origin = gepacore.OriginMigrant
		survivors = append(survivors, c)
	}
	return survivors
}

// Emit pushes elites (already selected as the top migration_k Pareto
// entries by the caller) into this island's ring successor's inbox
// (spec.md §4.9 step 2). Sends run concurrently on a pool, and Emit
// returns once every send has finished.
func (m *Manager) Emit(elites []Migrant) {
	p := pool.New().WithMaxGoroutines(len(elites) + 1)
	for _, e := range elites {
		e := e
		e.HopCount++
		p.Go(func() {
			_ = m.transport.Send(m.islandID, e)
		})
	}
	p.Wait()
}
