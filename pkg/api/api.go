// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the control server.
package api

import "time"

// WorkerStatus is one worker row in a status response.
type WorkerStatus struct {
	AccountID string    `json:"account_id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// StatusResponse is the response body for status queries.
type StatusResponse struct {
	Workers []WorkerStatus `json:"workers"`
}

// ScheduleRequest asks the daemon to schedule items for an account.
type ScheduleRequest struct {
	AccountID string   `json:"account_id"`
	ItemIDs   []string `json:"item_ids"`
	Priority  int      `json:"priority,omitempty"`
}

// ScheduleResponse summarizes a scheduling run.
type ScheduleResponse struct {
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
	DaysUsed  int `json:"days_used"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
