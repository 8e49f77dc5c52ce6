// Package blob uploads oversize artifacts to an external host and hands back
// a public URL the bot can link instead of attaching.
package blob

import (
	"context"
)

// ProgressFunc receives bytes_sent at roughly one second intervals while an
// upload runs.
type ProgressFunc func(bytesSent int64)

// Uploader streams a local file to an external host.
type Uploader interface {
	Upload(ctx context.Context, localPath string, progress ProgressFunc) (string, error)
}
