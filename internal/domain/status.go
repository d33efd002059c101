package domain

// Status is the coarse lifecycle of a game row
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}
