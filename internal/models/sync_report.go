package models

// ReportEntry pairs a replayed action with its outcome message.
type ReportEntry struct {
	Action  QueuedAction `json:"action"`
	Message string       `json:"message"`
}

// SyncReport lists the outcomes of the most recent replay run, in queue order.
type SyncReport struct {
	Success []ReportEntry `json:"success"`
	Errors  []ReportEntry `json:"errors"`
}

// NewSyncReport returns an empty report with non-nil lists.
func NewSyncReport() *SyncReport {
	return &SyncReport{
		Success: []ReportEntry{},
		Errors:  []ReportEntry{},
	}
}

// HasErrors reports whether any action failed.
func (r *SyncReport) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Clone returns a deep copy of the report.
func (r *SyncReport) Clone() *SyncReport {
	if r == nil {
		return nil
	}
	c := NewSyncReport()
	for _, e := range r.Success {
		c.Success = append(c.Success, ReportEntry{Action: e.Action.Clone(), Message: e.Message})
	}
	for _, e := range r.Errors {
		c.Errors = append(c.Errors, ReportEntry{Action: e.Action.Clone(), Message: e.Message})
	}
	return c
}
