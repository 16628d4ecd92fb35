package socktable

import (
	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
)

// Harvest implements getPendingEvents: it walks the slots owned by client
// id starting at its cursor (head), wrapping modulo the table size,
// stopping when the scan returns to tail or the computed record budget is
// exhausted. For each owned slot with a non-zero mask it snapshots
// mask/parent/error, clears self-describing bits, and appends a Record to
// out. Always sets tail = head at the end.
func (t *Table) Harvest(clientIdx int, requestedBytes int, dataportSize int) ([]events.Record, error) {
	if requestedBytes < events.RecordSize {
		return nil, errkind.BufferTooSmall.Err()
	}

	budget := requestedBytes
	if dataportSize < budget {
		budget = dataportSize
	}
	maxRecords := budget / events.RecordSize

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clientLocked(clientIdx)
	if !ok {
		return nil, errkind.InvalidHandle.Err()
	}

	n := len(t.slots)
	records := make([]events.Record, 0, maxRecords)
	cappedByBudget := false

	if n > 0 {
		i := c.Head % n
		for {
			if len(records) >= maxRecords {
				cappedByBudget = true
				break
			}
			s := &t.slots[i]
			if s.Status == InUse && s.OwnerClientID == c.ClientID && s.EventMask.Any() {
				rec := events.NewRecord(s.EventMask, int32(i), int32(s.ParentHandle), s.CurrentError)
				s.EventMask.ClearSelfDescribing()
				records = append(records, rec)
			}
			i = (i + 1) % n
			c.Head = i
			if i == c.Tail%n {
				break
			}
		}
	}

	if cappedByBudget {
		c.NeedsToBeNotified = true
	}
	c.Tail = c.Head

	return records, nil
}

func (t *Table) clientLocked(ci int) (*Client, bool) {
	if ci < 0 || ci >= len(t.clients) {
		return nil, false
	}
	return &t.clients[ci], true
}

// NotifyCandidates returns the client indices that have a pending
// notification to fire: those whose NeedsToBeNotified flag is already set,
// plus any client owning a slot with a non-zero mask that hasn't been
// flagged yet. Edge-triggered: at most one notification per fan-out pass
// per client.
func (t *Table) NotifyCandidates() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	due := make([]int, 0)
	for ci := range t.clients {
		c := &t.clients[ci]
		if !c.InUse {
			continue
		}
		if c.NeedsToBeNotified {
			due = append(due, ci)
			c.NeedsToBeNotified = false
			continue
		}
		for i := range t.slots {
			if t.slots[i].Status == InUse && t.slots[i].OwnerClientID == c.ClientID && t.slots[i].EventMask.Any() {
				due = append(due, ci)
				break
			}
		}
	}
	return due
}
