package service

import (
	"ridequeue/internal/domain"
	"ridequeue/internal/models"
)

// renumber assigns positions 1..N to entries in their current order and
// returns changes only for entries whose position moves.
func renumber(entries []*models.QueueEntry) []models.EntryChange {
	var changes []models.EntryChange
	for i, e := range entries {
		if e.Position == i+1 {
			continue
		}
		updated := e.Clone()
		updated.Position = i + 1
		changes = append(changes, models.EntryChange{Entry: updated, FromVersion: e.Version})
	}
	return changes
}

// applyOrder positions active entries following order. order must be a
// permutation of the active ids.
func applyOrder(active []*models.QueueEntry, order []string) []models.EntryChange {
	byID := make(map[string]*models.QueueEntry, len(active))
	for _, e := range active {
		byID[e.ID] = e
	}
	ordered := make([]*models.QueueEntry, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}
	return renumber(ordered)
}

// validateReorderSet checks that ids name each active entry exactly once.
func validateReorderSet(active []*models.QueueEntry, ids []string) error {
	activeSet := make(map[string]bool, len(active))
	for _, e := range active {
		activeSet[e.ID] = true
	}

	setErr := &domain.ReorderSetError{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			setErr.Duplicate = appendOnce(setErr.Duplicate, id)
			continue
		}
		seen[id] = true
		if !activeSet[id] {
			setErr.Extra = append(setErr.Extra, id)
		}
	}
	for _, e := range active {
		if !seen[e.ID] {
			setErr.Missing = append(setErr.Missing, e.ID)
		}
	}

	if len(setErr.Missing) == 0 && len(setErr.Extra) == 0 && len(setErr.Duplicate) == 0 {
		return nil
	}
	return setErr
}

// mergeSnapshot computes the reconciled order: known snapshot entries in
// snapshot order, then cloud-only entries in cloud order. Ids that are not
// active in the cloud are reported as stale; repeated ids are ignored.
func mergeSnapshot(active []*models.QueueEntry, snapshot []string) (*models.SyncReport, []string) {
	activeSet := make(map[string]bool, len(active))
	for _, e := range active {
		activeSet[e.ID] = true
	}

	report := &models.SyncReport{
		Applied:           []string{},
		CloudOnlyAppended: []string{},
		StaleReferences:   []string{},
	}

	seen := make(map[string]bool, len(snapshot))
	order := make([]string, 0, len(active))
	for _, id := range snapshot {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !activeSet[id] {
			report.StaleReferences = append(report.StaleReferences, id)
			continue
		}
		order = append(order, id)
	}
	for _, e := range active {
		if !seen[e.ID] {
			order = append(order, e.ID)
			report.CloudOnlyAppended = append(report.CloudOnlyAppended, e.ID)
		}
	}

	report.Applied = append(report.Applied, order...)
	return report, order
}

func entryIDs(entries []*models.QueueEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func changedIDs(changes []models.EntryChange) []string {
	ids := make([]string, 0, len(changes))
	for _, ch := range changes {
		ids = append(ids, ch.Entry.ID)
	}
	return ids
}

func appendOnce(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
