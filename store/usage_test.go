package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func baseRecord() UsageRecord {
	return UsageRecord{
		Timestamp:    "2024-05-01 12:00:00",
		UID:          1001,
		Uname:        "alice",
		Platform:     "douyin",
		Vid:          "douyin_7345",
		ParseSuccess: true,
		WorkTimeSec:  floatPtr(3.456),
	}
}

func TestUsageDedupFirstWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_stats.json")
	r := NewUsageRecorder(path)

	first := baseRecord()
	r.Record(first)

	second := baseRecord()
	second.Title = "retry of the same video"
	r.Record(second)

	recs := r.RecordsForUID(1001)
	require.Len(t, recs, 1)
	require.Empty(t, recs[0].Title)
}

func TestUsageCacheHitsNeverDeduped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_stats.json")
	r := NewUsageRecorder(path)

	r.Record(baseRecord())
	hit := baseRecord()
	hit.IsCachedHit = true
	r.Record(hit)
	r.Record(hit)

	require.Len(t, r.RecordsForUID(1001), 3)
}

func TestUsageWorkTimeClamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_stats.json")
	r := NewUsageRecorder(path)

	rec := baseRecord()
	rec.WorkTimeSec = floatPtr(3.456)
	r.Record(rec)

	negative := baseRecord()
	negative.Vid = "douyin_neg"
	negative.WorkTimeSec = floatPtr(-1)
	r.Record(negative)

	tooLong := baseRecord()
	tooLong.Vid = "douyin_long"
	tooLong.WorkTimeSec = floatPtr(7200)
	r.Record(tooLong)

	recs := r.RecordsForUID(1001)
	require.Len(t, recs, 3)
	require.Equal(t, 3.46, *recs[0].WorkTimeSec)
	require.Nil(t, recs[1].WorkTimeSec)
	require.Nil(t, recs[2].WorkTimeSec)
}

func TestUsagePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_stats.json")
	NewUsageRecorder(path).Record(baseRecord())

	reloaded := NewUsageRecorder(path)
	recs := reloaded.RecordsForUID(1001)
	require.Len(t, recs, 1)
	require.Equal(t, "alice", recs[0].Uname)
	require.Equal(t, "alice", reloaded.UnameForUID(1001))
	require.Empty(t, reloaded.UnameForUID(9999))
}
