package config

import "time"

// TimestampGenerator abstracts wall-clock reads so code that stamps blob
// object keys or usage records can be pinned in tests.
type TimestampGenerator interface {
	GetTimestampUTC() int64
}

// RealTimestampGenerator reads the system clock.
type RealTimestampGenerator struct{}

func (RealTimestampGenerator) GetTimestampUTC() int64 {
	return time.Now().Unix()
}

// FixedTimestampGenerator always reports Timestamp.
type FixedTimestampGenerator struct {
	Timestamp int64
}

func (g FixedTimestampGenerator) GetTimestampUTC() int64 {
	return g.Timestamp
}
