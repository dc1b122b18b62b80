package engine

import (
	"sort"
	"time"
)

// Backpressure tracks failed-creation state per node and computes retry
// eligibility with exponential backoff. It is mutated by Phase 2 only.
type Backpressure struct {
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxRetries  int

	blocked map[NodeID]*BlockedRecord

	now func() time.Time
}

// NewBackpressure creates a backpressure controller.
func NewBackpressure(baseBackoff, maxBackoff time.Duration, maxRetries int) *Backpressure {
	return &Backpressure{
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		maxRetries:  maxRetries,
		blocked:     make(map[NodeID]*BlockedRecord),
		now:         time.Now,
	}
}

// RecordFailure notes a failed creation attempt and computes the next retry
// window: min(base * 2^retry_count, max), measured from now.
func (b *Backpressure) RecordFailure(nodeID NodeID) BlockedRecord {
	rec, ok := b.blocked[nodeID]
	if !ok {
		rec = &BlockedRecord{NodeID: nodeID}
		b.blocked[nodeID] = rec
	}

	backoff := b.baseBackoff << uint(rec.RetryCount)
	if backoff > b.maxBackoff || backoff <= 0 {
		backoff = b.maxBackoff
	}
	rec.CurrentBackoff = backoff
	rec.NextRetryAt = b.now().Add(backoff)
	rec.RetryCount++
	return *rec
}

// IsRetryEligible reports whether a create effect may be issued for the node
// at the given time. Nodes past the retry cap are never eligible until an
// explicit retry clears them.
func (b *Backpressure) IsRetryEligible(nodeID NodeID, now time.Time) bool {
	rec, ok := b.blocked[nodeID]
	if !ok {
		return true
	}
	if rec.RetryCount >= b.maxRetries {
		return false
	}
	return !now.Before(rec.NextRetryAt)
}

// IsTerminal reports whether the node has exhausted its retry budget.
func (b *Backpressure) IsTerminal(nodeID NodeID) bool {
	rec, ok := b.blocked[nodeID]
	return ok && rec.RetryCount >= b.maxRetries
}

// Record returns a copy of a node's blocked record.
func (b *Backpressure) Record(nodeID NodeID) (BlockedRecord, bool) {
	rec, ok := b.blocked[nodeID]
	if !ok {
		return BlockedRecord{}, false
	}
	return *rec, true
}

// Clear removes a node's blocked record. Called on successful creation and
// on cause-driven demotion to Cold: a node the user has backed away from
// should not keep retrying.
func (b *Backpressure) Clear(nodeID NodeID) {
	delete(b.blocked, nodeID)
}

// BlockedCount returns the number of nodes with a blocked record.
func (b *Backpressure) BlockedCount() int {
	return len(b.blocked)
}

// TerminalNodes returns the nodes at the retry cap, sorted for stable
// reporting.
func (b *Backpressure) TerminalNodes() []NodeID {
	var nodes []NodeID
	for id, rec := range b.blocked {
		if rec.RetryCount >= b.maxRetries {
			nodes = append(nodes, id)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}
