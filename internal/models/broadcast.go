package models

import "time"

// BroadcastStatus is the lifecycle of a broadcast job.
type BroadcastStatus string

// Broadcast statuses. A job moves sending -> complete (or cancelled) once.
const (
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastComplete  BroadcastStatus = "complete"
	BroadcastCancelled BroadcastStatus = "cancelled"
)

// BroadcastSuccess is one delivered message.
type BroadcastSuccess struct {
	GroupID    string    `json:"groupId"`
	GroupName  string    `json:"groupName,omitempty"`
	MessageID  int       `json:"messageId,omitempty"`
	MessageURL *string   `json:"messageUrl"` // nil for private groups
	Timestamp  time.Time `json:"timestamp"`
}

// BroadcastFailure is one target that could not be sent to.
// Error is the raw transport message; DisplayError is filled at response time.
type BroadcastFailure struct {
	GroupID      string    `json:"groupId"`
	Error        string    `json:"error"`
	DisplayError string    `json:"displayError,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// BroadcastResults holds the per-target outcomes in processing order.
type BroadcastResults struct {
	Successful []BroadcastSuccess `json:"successful"`
	Failed     []BroadcastFailure `json:"failed"`
}

// BroadcastProgress is an observation of a running or finished broadcast.
// Current always equals SuccessfulCount + FailedCount.
type BroadcastProgress struct {
	Total           int              `json:"total"`
	Current         int              `json:"current"`
	SuccessfulCount int              `json:"successfulCount"`
	FailedCount     int              `json:"failedCount"`
	Status          BroadcastStatus  `json:"status"`
	Results         BroadcastResults `json:"results"`
}

// Clone returns a copy that shares no slices with p.
func (p BroadcastProgress) Clone() BroadcastProgress {
	out := p
	out.Results.Successful = append([]BroadcastSuccess{}, p.Results.Successful...)
	out.Results.Failed = append([]BroadcastFailure{}, p.Results.Failed...)
	return out
}
