package ledger

import "time"

// Status represents the lifecycle of a processing unit within a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPlanning   Status = "planning"
	StatusProcessing Status = "processing"
	StatusMerging    Status = "merging"
	StatusCompleted  Status = "completed"
	StatusRecovered  Status = "recovered"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusPlanning,
	StatusProcessing,
	StatusMerging,
	StatusCompleted,
	StatusRecovered,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ValidStatus reports whether the given status is known.
func ValidStatus(status Status) bool {
	_, ok := statusSet[status]
	return ok
}

// Unit is a ledger row tracking one processing unit of a run.
type Unit struct {
	ID            int64
	RunID         string
	UnitID        string
	Tile          string
	Status        Status
	BlocksTotal   int
	BlocksDone    int
	BlocksSkipped int
	OutputPath    string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	HeartbeatAt   time.Time
}
