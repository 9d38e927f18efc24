package storage

import "sync"

// MemoryBackend is an in-memory Backend, grounded on the teacher's
// MemStableStore/MemLogStore split but unified behind the single Backend
// contract this core depends on. It keeps one state slot per node id, so a
// single MemoryBackend can back an entire in-process test cluster.
type MemoryBackend struct {
	mu    sync.Mutex
	apply ApplyFunc
	nodes map[string]*memNodeState
}

type memNodeState struct {
	meta        Meta
	lastApplied uint64
}

// NewMemoryBackend returns a MemoryBackend that delivers applied commands
// to apply. A nil apply is treated as a no-op sink, useful for tests that
// only care about the replication/commit pipeline.
func NewMemoryBackend(apply ApplyFunc) *MemoryBackend {
	if apply == nil {
		apply = func(uint64, any) error { return nil }
	}
	return &MemoryBackend{apply: apply, nodes: make(map[string]*memNodeState)}
}

func (b *MemoryBackend) state(nodeID string) *memNodeState {
	s, ok := b.nodes[nodeID]
	if !ok {
		s = &memNodeState{}
		b.nodes[nodeID] = s
	}
	return s
}

func (b *MemoryBackend) LoadMeta(nodeID string) (Meta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(nodeID)
	cp := make([]LogEntry, len(s.meta.Log))
	copy(cp, s.meta.Log)
	return Meta{CurrentTerm: s.meta.CurrentTerm, VotedFor: s.meta.VotedFor, Log: cp}, nil
}

func (b *MemoryBackend) LastAppliedCommitIndex(nodeID string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(nodeID).lastApplied, nil
}

func (b *MemoryBackend) SaveMeta(nodeID string, meta Meta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]LogEntry, len(meta.Log))
	copy(cp, meta.Log)
	s := b.state(nodeID)
	s.meta = Meta{CurrentTerm: meta.CurrentTerm, VotedFor: meta.VotedFor, Log: cp}
	return nil
}

func (b *MemoryBackend) ApplyLog(nodeID string, index uint64, entry LogEntry) error {
	b.mu.Lock()
	s := b.state(nodeID)
	if index != s.lastApplied+1 {
		have := s.lastApplied
		b.mu.Unlock()
		return outOfOrderErr(nodeID, have, index)
	}
	b.mu.Unlock()

	if err := b.apply(index, entry.Command); err != nil {
		return err
	}

	b.mu.Lock()
	s.lastApplied = index
	b.mu.Unlock()
	return nil
}
