// Package model defines the judge's wire and storage types.
package model

// Status is the lifecycle state or final verdict of a submission.
type Status string

const (
	StatusPending Status = "Pending"
	StatusJudging Status = "Judging"

	StatusAC  Status = "AC"  // accepted
	StatusWA  Status = "WA"  // wrong answer
	StatusTLE Status = "TLE" // time limit exceeded
	StatusMLE Status = "MLE" // memory limit exceeded
	StatusOLE Status = "OLE" // output limit exceeded
	StatusRE  Status = "RE"  // runtime error
	StatusCE  Status = "CE"  // compilation error
	StatusIE  Status = "IE"  // internal error
)

// IsTerminal reports whether s is a final verdict.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAC, StatusWA, StatusTLE, StatusMLE, StatusOLE, StatusRE, StatusCE, StatusIE:
		return true
	}
	return false
}
