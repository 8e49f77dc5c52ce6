package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// Prober fills in the dimensions and duration the transport wants alongside
// an inline video so players can size it before the first frame.
type Prober interface {
	ProbeVideo(path string) (Item, error)
}

type Probe struct{}

func (p Probe) ProbeVideo(path string) (Item, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 2)); err != nil {
		return Item{}, fmt.Errorf("error probing %s: %w", path, err)
	}
	return parseProbeOutput(path, data)
}

func parseProbeOutput(path string, data *ffprobe.ProbeData) (Item, error) {
	stream := data.FirstVideoStream()
	if stream == nil {
		return Item{}, errors.New("error checking for video: no video stream found")
	}
	if data.Format == nil {
		return Item{}, errors.New("error parsing probed video: format information missing")
	}
	return Item{
		LocalPath:   path,
		FileType:    FileVideo,
		Width:       stream.Width,
		Height:      stream.Height,
		DurationSec: data.Format.DurationSeconds,
	}, nil
}
