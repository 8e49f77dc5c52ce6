// Package store holds the bot's persistent state: the handle cache, the usage
// log and the blacklist. Everything is a single UTF-8 JSON file updated with
// the same write protocol: serialize to a temp file, fsync it, move the old
// file to a backup, then rename the temp file into place. A crash at any step
// leaves either the previous file or the backup intact.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipfetch/clipfetch/log"
	"github.com/xeipuuv/gojsonschema"
)

func tmpPath(path string) string {
	return suffixPath(path, "_tmp")
}

func backupPath(path string) string {
	return suffixPath(path, "_backup")
}

func suffixPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// saveAtomic writes data to path via the temp+fsync+backup+rename protocol.
// On any failure the previous file is untouched and the caller's in-memory
// state stays authoritative.
func saveAtomic(path string, data []byte) error {
	tmp := tmpPath(path)

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("error writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("error syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error closing temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backupPath(path)); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("error moving previous file to backup: %w", err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error renaming temp file into place: %w", err)
	}
	return nil
}

// loadWithBackup reads path, validating against schema when one is given.
// A bad or missing primary falls back to the backup file; a double failure
// returns nil bytes so the caller starts empty.
func loadWithBackup(path string, schema *gojsonschema.Schema) []byte {
	missing := 0
	for _, p := range []string{path, backupPath(path)} {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				missing++
			} else {
				log.LogNoRequestID("error reading persistent store", "path", p, "error", err)
			}
			continue
		}
		if schema != nil {
			res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
			if err != nil || !res.Valid() {
				log.LogNoRequestID("persistent store failed schema validation", "path", p, "error", fmt.Sprintf("%v %v", err, validationErrors(res)))
				continue
			}
		}
		if p != path {
			log.LogNoRequestID("CRITICAL: primary store unreadable, loaded backup", "path", path)
		}
		return data
	}
	if missing == 2 {
		// First boot: neither file exists yet, nothing went wrong.
		log.LogNoRequestID("no persistent store on disk, starting empty", "path", path)
	} else {
		log.LogNoRequestID("CRITICAL: persistent store and backup both unreadable, starting empty", "path", path)
	}
	return nil
}

func validationErrors(res *gojsonschema.Result) []string {
	if res == nil {
		return nil
	}
	var out []string
	for _, e := range res.Errors() {
		out = append(out, e.String())
	}
	return out
}

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

func uidKey(uid int64) string {
	return strconv.FormatInt(uid, 10)
}

func unmarshalInto(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// marshalJSON matches the legacy on-disk shape: indent 2, non-ASCII preserved,
// no HTML escaping.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
