package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/clipfetch/clipfetch/log"
	"github.com/mitchellh/mapstructure"
)

// Parse modes understood by the delivery transport. Plain is the zero value.
const (
	ParseModePlain      = ""
	ParseModeHTML       = "HTML"
	ParseModeMarkdownV2 = "MarkdownV2"
)

// SpecialCatbox marks an entry whose handle is an external preview link
// rather than a transport file handle.
const SpecialCatbox = "catbox"

// Button is one inline keyboard button preserved alongside a cached handle.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Handle is a remote file handle: a single upload or an ordered album. For
// albums each element carries a VIDEO: or IMAGE: prefix recording the media
// kind of that slot.
type Handle struct {
	One  string
	Many []string
}

func SingleHandle(id string) Handle   { return Handle{One: id} }
func AlbumHandle(ids []string) Handle { return Handle{Many: ids} }
func (h Handle) IsAlbum() bool        { return h.Many != nil }
func (h Handle) IsZero() bool         { return h.One == "" && h.Many == nil }

func (h Handle) MarshalJSON() ([]byte, error) {
	if h.Many != nil {
		return json.Marshal(h.Many)
	}
	return json.Marshal(h.One)
}

func (h *Handle) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &h.Many)
	}
	return json.Unmarshal(data, &h.One)
}

// Entry is one cached delivery: everything needed to replay the response
// without touching the platform again.
type Entry struct {
	Title     string     `json:"title"`
	FileID    Handle     `json:"file_id"`
	Reply     [][]Button `json:"reply,omitempty"`
	ParseMode string     `json:"parse_mode,omitempty"`
	Special   string     `json:"special,omitempty"`
}

// legacyEntry is the oldest dict shape, which stored the handle under "value".
type legacyEntry struct {
	Title     string      `mapstructure:"title"`
	Value     interface{} `mapstructure:"value"`
	Reply     [][]Button  `mapstructure:"reply"`
	ParseMode string      `mapstructure:"parse_mode"`
	Special   string      `mapstructure:"special"`
}

var handleCacheSchema = mustCompileSchema(`{
	"type": "object",
	"additionalProperties": {
		"anyOf": [
			{"type": "string"},
			{"type": "array", "items": {"type": "string"}},
			{"type": "object"}
		]
	}
}`)

// HandleCache maps a platform video id to its cached delivery. Insertion
// order is preserved so admin listings show oldest first.
type HandleCache struct {
	path    string
	mutex   sync.RWMutex
	entries map[string]Entry
	order   []string
}

func NewHandleCache(path string) *HandleCache {
	c := &HandleCache{
		path:    path,
		entries: make(map[string]Entry),
	}
	c.load()
	return c
}

func (c *HandleCache) load() {
	data := loadWithBackup(c.path, handleCacheSchema)
	if data == nil {
		return
	}
	keys, err := orderedKeys(data)
	if err != nil {
		log.LogNoRequestID("error reading handle cache key order", "path", c.path, "error", err)
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.LogNoRequestID("error parsing handle cache", "path", c.path, "error", err)
		return
	}
	for _, k := range keys {
		entry, err := decodeEntry(raw[k])
		if err != nil {
			log.LogNoRequestID("skipping unreadable handle cache entry", "vid", k, "error", err)
			continue
		}
		c.entries[k] = entry
		c.order = append(c.order, k)
	}
}

// decodeEntry accepts the current object shape plus the two legacy shapes
// (a bare handle string or list, and the old dict keyed on "value").
func decodeEntry(data json.RawMessage) (Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Entry{}, fmt.Errorf("empty entry")
	}
	if data[0] != '{' {
		var h Handle
		if err := json.Unmarshal(data, &h); err != nil {
			return Entry{}, err
		}
		return Entry{FileID: h}, nil
	}

	var probe map[string]interface{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Entry{}, err
	}
	if _, ok := probe["file_id"]; ok {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return Entry{}, err
		}
		return e, nil
	}

	var old legacyEntry
	if err := mapstructure.Decode(probe, &old); err != nil {
		return Entry{}, fmt.Errorf("error decoding legacy entry: %w", err)
	}
	e := Entry{
		Title:     old.Title,
		Reply:     old.Reply,
		ParseMode: old.ParseMode,
		Special:   old.Special,
	}
	switch v := old.Value.(type) {
	case string:
		e.FileID = SingleHandle(v)
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Entry{}, fmt.Errorf("legacy entry list holds a non-string")
			}
			ids = append(ids, s)
		}
		e.FileID = AlbumHandle(ids)
	default:
		return Entry{}, fmt.Errorf("legacy entry value has unexpected type %T", old.Value)
	}
	return e, nil
}

// orderedKeys walks the top-level object tokens to recover file order, which
// a plain map unmarshal would lose.
func orderedKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a top-level object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Get returns just the cached handle for vid.
func (c *HandleCache) Get(vid string) (Handle, bool) {
	e, ok := c.GetFull(vid)
	return e.FileID, ok
}

// GetFull returns the whole cached entry for vid.
func (c *HandleCache) GetFull(vid string) (Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	e, ok := c.entries[vid]
	return e, ok
}

// Put stores an entry and persists the whole cache. A failed save keeps the
// in-memory entry so the session still benefits.
func (c *HandleCache) Put(vid string, e Entry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.entries[vid]; !exists {
		c.order = append(c.order, vid)
	}
	c.entries[vid] = e
	c.persistLocked()
}

// Delete removes a cached entry, reporting whether it was present.
func (c *HandleCache) Delete(vid string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.entries[vid]; !ok {
		return false
	}
	delete(c.entries, vid)
	for i, k := range c.order {
		if k == vid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.persistLocked()
	return true
}

// Keys returns all cached vids, oldest first.
func (c *HandleCache) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// TitlePair is one row of the admin cache listing.
type TitlePair struct {
	Vid   string
	Title string
}

// TitlePairs returns (vid, title) rows in insertion order.
func (c *HandleCache) TitlePairs() []TitlePair {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]TitlePair, 0, len(c.order))
	for _, vid := range c.order {
		out = append(out, TitlePair{Vid: vid, Title: c.entries[vid].Title})
	}
	return out
}

func (c *HandleCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *HandleCache) persistLocked() {
	data, err := marshalOrderedEntries(c.order, c.entries)
	if err != nil {
		log.LogNoRequestID("error serializing handle cache", "error", err)
		return
	}
	if err := saveAtomic(c.path, data); err != nil {
		log.LogNoRequestID("error persisting handle cache", "path", c.path, "error", err)
	}
}

// marshalOrderedEntries writes the object by hand so key order survives on
// disk across restarts.
func marshalOrderedEntries(order []string, entries map[string]Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, vid := range order {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		key, err := marshalJSON(vid)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(": ")
		val, err := marshalJSON(entries[vid])
		if err != nil {
			return nil, err
		}
		buf.Write(bytes.ReplaceAll(val, []byte("\n"), []byte("\n  ")))
	}
	if len(order) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}
