package knowledge

// Status is the freshness classification of an artifact.
type Status string

const (
	StatusFresh          Status = "fresh"
	StatusStale          Status = "stale"
	StatusMissing        Status = "missing"
	StatusOrphaned       Status = "orphaned"
	StatusUpdatedSuccess Status = "updated_success"
	StatusUpdatedFailed  Status = "updated_failed"
	StatusDeleted        Status = "deleted"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusFresh,
	StatusStale,
	StatusMissing,
	StatusOrphaned,
	StatusUpdatedSuccess,
	StatusUpdatedFailed,
	StatusDeleted,
}

// NeedsWork reports whether an artifact in this status still has to be
// regenerated or removed.
func (s Status) NeedsWork() bool {
	switch s {
	case StatusFresh, StatusUpdatedSuccess, StatusDeleted:
		return false
	default:
		return true
	}
}

// ProgressFunc receives one human readable line per call. A nil ProgressFunc
// is valid and drops everything.
type ProgressFunc func(line string)

// Emit sends line to the sink if one is set.
func (p ProgressFunc) Emit(line string) {
	if p != nil {
		p(line)
	}
}
