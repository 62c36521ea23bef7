package core

// Status is the lifecycle position of a workflow instance.
type Status string

const (
	StatusInitiated             Status = "INITIATED"
	StatusPrepared              Status = "PREPARED"
	StatusClassified            Status = "CLASSIFIED"
	StatusEvidenceCollected     Status = "EVIDENCE_COLLECTED"
	StatusTriaged               Status = "TRIAGED"
	StatusKnowledgeBaseSearched Status = "KNOWLEDGE_BASE_SEARCHED"
	StatusRemediationProposed   Status = "REMEDIATION_PROPOSED"
	StatusSummaryReady          Status = "SUMMARY_READY"
	StatusCompleted             Status = "COMPLETED"
	StatusInterrupted           Status = "INTERRUPTED"

	// StatusEmpty is reported by read queries for ids that were never started.
	// It is never persisted.
	StatusEmpty Status = "EMPTY"
)

// AllStatuses returns the persisted statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusInitiated,
		StatusPrepared,
		StatusClassified,
		StatusEvidenceCollected,
		StatusTriaged,
		StatusKnowledgeBaseSearched,
		StatusRemediationProposed,
		StatusSummaryReady,
		StatusCompleted,
		StatusInterrupted,
	}
}

// StatusOrder returns the position of s along the happy path.
// INTERRUPTED shares the rank of COMPLETED; unknown values return -1.
func StatusOrder(s Status) int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusPrepared:
		return 1
	case StatusClassified:
		return 2
	case StatusEvidenceCollected:
		return 3
	case StatusTriaged:
		return 4
	case StatusKnowledgeBaseSearched:
		return 5
	case StatusRemediationProposed:
		return 6
	case StatusSummaryReady:
		return 7
	case StatusCompleted, StatusInterrupted:
		return 8
	default:
		return -1
	}
}

// IsTerminal reports whether no further step may run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusInterrupted
}

// IsValid reports whether s is a persisted status.
func (s Status) IsValid() bool {
	return StatusOrder(s) >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Terminal statuses accept nothing; any status may jump to
// INTERRUPTED.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == StatusInterrupted {
		return true
	}
	return StatusOrder(next) >= StatusOrder(s)
}

// Progress returns the number of pipeline stages represented by s (0..7),
// used by dashboards.
func (s Status) Progress() int {
	switch {
	case s == StatusInterrupted:
		return 0
	case StatusOrder(s) >= 7:
		return 7
	case StatusOrder(s) < 0:
		return 0
	default:
		return StatusOrder(s)
	}
}
