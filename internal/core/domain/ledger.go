package domain

import "time"

// Attempt tells an original delivery from an injected duplicate.
type Attempt string

const (
	AttemptOriginal  Attempt = "original"
	AttemptDuplicate Attempt = "duplicate"
)

// LedgerEntry records one delivery attempt so consumers can be checked against
// what was actually produced.
type LedgerEntry struct {
	OrderID    int64
	Worker     string
	Attempt    Attempt
	Malformed  bool
	Topic      string
	Partition  int32
	Offset     int64
	Error      string
	ProducedAt time.Time
}

// Delivered reports whether the attempt was acknowledged by the sink.
func (e LedgerEntry) Delivered() bool {
	return e.Error == ""
}
