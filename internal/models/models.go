package models

import "time"

// Actor is the attribution supplied by the identity subsystem.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SyncReport is returned to the desktop terminal after a reconciliation.
type SyncReport struct {
	Applied           []string `json:"applied"`
	CloudOnlyAppended []string `json:"cloud_only_appended"`
	StaleReferences   []string `json:"stale_references"`
	Changed           bool     `json:"changed"`
}

func (r *SyncReport) Clone() *SyncReport {
	if r == nil {
		return nil
	}
	return &SyncReport{
		Applied:           cloneIDs(r.Applied),
		CloudOnlyAppended: cloneIDs(r.CloudOnlyAppended),
		StaleReferences:   cloneIDs(r.StaleReferences),
		Changed:           r.Changed,
	}
}

// DesktopSyncState is the last reconciliation seen by a desktop terminal.
type DesktopSyncState struct {
	TerminalID   string      `json:"terminal_id"`
	LastSyncAt   time.Time   `json:"last_sync_at"`
	SyncCount    int64       `json:"sync_count"`
	LastReport   *SyncReport `json:"last_report,omitempty"`
	LastSnapshot []string    `json:"last_snapshot,omitempty"`
}

// Clone returns a deep copy that shares no slices with s.
func (s *DesktopSyncState) Clone() *DesktopSyncState {
	if s == nil {
		return nil
	}
	c := *s
	c.LastReport = s.LastReport.Clone()
	c.LastSnapshot = cloneIDs(s.LastSnapshot)
	return &c
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append(make([]string, 0, len(ids)), ids...)
}
