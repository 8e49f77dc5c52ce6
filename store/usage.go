package store

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/clipfetch/clipfetch/log"
)

// UsageRecord is one parse attempt as logged for the usage file. Fields mirror
// what the admin tooling reads back, so names are stable.
type UsageRecord struct {
	Timestamp      string   `json:"timestamp"`
	UID            int64    `json:"uid"`
	Uname          string   `json:"uname"`
	FullName       string   `json:"full_name"`
	Platform       string   `json:"platform"`
	InputText      string   `json:"input_text"`
	URL            string   `json:"url"`
	Vid            string   `json:"vid"`
	Title          string   `json:"title"`
	ParsedURL      string   `json:"parsed_url"`
	SizeMB         float64  `json:"size_mb"`
	IsCachedHit    bool     `json:"is_cached_hit"`
	ParseSuccess   bool     `json:"parse_success"`
	ParseException string   `json:"parse_exception"`
	WorkTimeSec    *float64 `json:"work_time_s"`
	CacheInfo      string   `json:"cache_info"`
}

type userStats struct {
	Records []UsageRecord `json:"records"`
}

var usageSchema = mustCompileSchema(`{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"properties": {
			"records": {"type": "array", "items": {"type": "object"}}
		},
		"required": ["records"]
	}
}`)

// UsageRecorder appends parse records per user. Repeat non-hit records for the
// same (uid, vid) pair are dropped so the first attempt wins; cache hits are
// always appended since each one is a real delivery.
type UsageRecorder struct {
	path  string
	mutex sync.Mutex
	stats map[string]*userStats
}

func NewUsageRecorder(path string) *UsageRecorder {
	r := &UsageRecorder{
		path:  path,
		stats: make(map[string]*userStats),
	}
	if data := loadWithBackup(path, usageSchema); data != nil {
		if err := unmarshalInto(data, &r.stats); err != nil {
			log.LogNoRequestID("error parsing usage stats", "path", path, "error", err)
			r.stats = make(map[string]*userStats)
		}
	}
	return r
}

// Record appends rec under its uid, persisting on change. WorkTimeSec outside
// [0, 3600] is treated as a clock glitch and nulled; in-range values are
// rounded to centiseconds.
func (r *UsageRecorder) Record(rec UsageRecord) {
	if rec.WorkTimeSec != nil {
		v := *rec.WorkTimeSec
		if v < 0 || v > 3600 {
			rec.WorkTimeSec = nil
		} else {
			rounded := math.Round(v*100) / 100
			rec.WorkTimeSec = &rounded
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := uidKey(rec.UID)
	stats, ok := r.stats[key]
	if !ok {
		stats = &userStats{}
		r.stats[key] = stats
	}
	if !rec.IsCachedHit {
		for _, prev := range stats.Records {
			if prev.Vid == rec.Vid && !prev.IsCachedHit {
				return
			}
		}
	}
	stats.Records = append(stats.Records, rec)
	r.persistLocked()
}

// UnameForUID returns the most recently recorded username for uid, for the
// admin blacklist listing.
func (r *UsageRecorder) UnameForUID(uid int64) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	stats, ok := r.stats[uidKey(uid)]
	if !ok {
		return ""
	}
	for i := len(stats.Records) - 1; i >= 0; i-- {
		if stats.Records[i].Uname != "" {
			return stats.Records[i].Uname
		}
	}
	return ""
}

// UIDForUname resolves a username back to its uid, newest record wins. The
// admin blacklist commands accept @username and need the reverse mapping.
func (r *UsageRecorder) UIDForUname(uname string) (int64, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, stats := range r.stats {
		for i := len(stats.Records) - 1; i >= 0; i-- {
			if stats.Records[i].Uname == uname {
				return stats.Records[i].UID, true
			}
		}
	}
	return 0, false
}

// KnownUIDs returns every uid that ever produced a record, sorted, for the
// notify broadcast.
func (r *UsageRecorder) KnownUIDs() []int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]int64, 0, len(r.stats))
	for key, stats := range r.stats {
		if len(stats.Records) == 0 {
			continue
		}
		uid, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecordsForUID returns a copy of uid's records.
func (r *UsageRecorder) RecordsForUID(uid int64) []UsageRecord {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	stats, ok := r.stats[uidKey(uid)]
	if !ok {
		return nil
	}
	out := make([]UsageRecord, len(stats.Records))
	copy(out, stats.Records)
	return out
}

func (r *UsageRecorder) persistLocked() {
	data, err := marshalJSON(r.stats)
	if err != nil {
		log.LogNoRequestID("error serializing usage stats", "error", err)
		return
	}
	if err := saveAtomic(r.path, data); err != nil {
		log.LogNoRequestID("error persisting usage stats", "path", r.path, "error", err)
	}
}
