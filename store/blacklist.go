package store

import (
	"sort"
	"sync"

	"github.com/clipfetch/clipfetch/log"
)

var blacklistSchema = mustCompileSchema(`{
	"type": "array",
	"items": {"type": "integer"}
}`)

// Blacklist is the set of user ids whose messages are silently dropped.
// Persisted as a sorted JSON array.
type Blacklist struct {
	path  string
	mutex sync.RWMutex
	uids  map[int64]struct{}
}

func NewBlacklist(path string) *Blacklist {
	b := &Blacklist{
		path: path,
		uids: make(map[int64]struct{}),
	}
	if data := loadWithBackup(path, blacklistSchema); data != nil {
		var list []int64
		if err := unmarshalInto(data, &list); err != nil {
			log.LogNoRequestID("error parsing blacklist", "path", path, "error", err)
			return b
		}
		for _, uid := range list {
			b.uids[uid] = struct{}{}
		}
	}
	return b
}

func (b *Blacklist) Contains(uid int64) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	_, ok := b.uids[uid]
	return ok
}

// Add inserts uid, reporting whether it was new.
func (b *Blacklist) Add(uid int64) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.uids[uid]; ok {
		return false
	}
	b.uids[uid] = struct{}{}
	b.persistLocked()
	return true
}

// Remove deletes uid, reporting whether it was present.
func (b *Blacklist) Remove(uid int64) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.uids[uid]; !ok {
		return false
	}
	delete(b.uids, uid)
	b.persistLocked()
	return true
}

// List returns all blacklisted uids in ascending order.
func (b *Blacklist) List() []int64 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.sortedLocked()
}

func (b *Blacklist) sortedLocked() []int64 {
	out := make([]int64, 0, len(b.uids))
	for uid := range b.uids {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Blacklist) persistLocked() {
	data, err := marshalJSON(b.sortedLocked())
	if err != nil {
		log.LogNoRequestID("error serializing blacklist", "error", err)
		return
	}
	if err := saveAtomic(b.path, data); err != nil {
		log.LogNoRequestID("error persisting blacklist", "path", b.path, "error", err)
	}
}
