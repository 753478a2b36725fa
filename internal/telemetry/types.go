// Package telemetry records one row per upstream attempt in the background,
// so the client response is never delayed by a database write.
package telemetry

import "time"

// AttemptRecord is one upstream attempt, successful or terminal.
type AttemptRecord struct {
	Provider     string
	Model        string
	Action       string
	Method       string
	Path         string
	ClientIP     string
	UserAgent    string
	StatusCode   int
	LatencyMS    int64
	AttemptIndex int
	KeyID        string

	PromptTokens     *int64
	CandidatesTokens *int64
	TotalTokens      *int64

	RequestBody  []byte
	ResponseBody []byte
	RequestSize  int64
	ResponseSize int64

	IsError      bool
	ErrorDetail  string
	CreatedAt    time.Time
}
