// Package mux joins the separate audio and video streams some platforms serve
// (bilibili DASH in particular) into one playable MP4 without re-encoding.
package mux

import (
	"fmt"
	"os"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// MergeAV remuxes videoPath and audioPath into outPath with stream copy.
func MergeAV(videoPath, audioPath, outPath string) error {
	video := ffmpeg.Input(videoPath)
	audio := ffmpeg.Input(audioPath)
	err := ffmpeg.Output([]*ffmpeg.Stream{video, audio}, outPath,
		ffmpeg.KwArgs{"c": "copy", "movflags": "faststart"}).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to merge audio and video streams into %s: %w", outPath, err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("merge error: failed to stat merged file: %w", err)
	}
	return nil
}
