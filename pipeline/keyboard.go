package pipeline

import (
	"github.com/clipfetch/clipfetch/media"
	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/store"
)

// BuildQualityKeyboard lays out the quality ladder as URL buttons, two per
// row in option order. When the post carries background audio a music button
// takes the final row.
func BuildQualityKeyboard(opts []media.QualityOption, audioURI, audioTitle string) messenger.Keyboard {
	var kb messenger.Keyboard
	var row []messenger.Button
	for _, q := range opts {
		if q.DownloadURL == "" {
			continue
		}
		row = append(row, messenger.Button{Text: q.ButtonLabel(), URL: q.DownloadURL})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	if audioURI != "" {
		label := "🎵 背景音乐"
		if audioTitle != "" {
			label = "🎵 " + audioTitle
		}
		kb = append(kb, []messenger.Button{{Text: label, URL: audioURI}})
	}
	return kb
}

// keyboardToStore converts the transport keyboard into the cache shape, URL
// buttons only since callback buttons cannot replay.
func keyboardToStore(kb messenger.Keyboard) [][]store.Button {
	if len(kb) == 0 {
		return nil
	}
	out := make([][]store.Button, 0, len(kb))
	for _, row := range kb {
		var stored []store.Button
		for _, btn := range row {
			if btn.URL == "" {
				continue
			}
			stored = append(stored, store.Button{Text: btn.Text, URL: btn.URL})
		}
		if len(stored) > 0 {
			out = append(out, stored)
		}
	}
	return out
}

func keyboardFromStore(rows [][]store.Button) messenger.Keyboard {
	if len(rows) == 0 {
		return nil
	}
	kb := make(messenger.Keyboard, 0, len(rows))
	for _, row := range rows {
		buttons := make([]messenger.Button, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, messenger.Button{Text: btn.Text, URL: btn.URL})
		}
		kb = append(kb, buttons)
	}
	return kb
}
