package executor

// Status is the lifecycle state of an async task.
type Status int32

const (
	Pending Status = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// IsActive reports whether s is Pending or Running.
func (s Status) IsActive() bool {
	return s == Pending || s == Running
}
