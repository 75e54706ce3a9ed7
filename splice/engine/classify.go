package engine

import (
	"fmt"
	"strings"

	"splice.sh/core/pipeline"
)

// maxMessageBytes bounds how much raw stderr ends up in a user-facing
// error message.
const maxMessageBytes = 2000

type hint struct {
	all     []string
	message string
}

var hints = map[pipeline.Tool][]hint{
	pipeline.ToolFFmpeg: {
		{[]string{"Media type mismatch"}, "filter graph mixes audio and video streams; keep the video chain and the audio chain separate"},
		{[]string{"do not match", "SAR"}, "concat inputs have different sample aspect ratios; normalize them first (e.g. setsar=1)"},
		{[]string{"do not match", "size"}, "concat inputs do not match; normalize resolution, frame rate and sample rate first"},
		{[]string{"Error reinitializing filters"}, "filter graph configuration failed; check the normalization applied before concat"},
		{[]string{"Invalid argument"}, "invalid arguments; check the generated command"},
		{[]string{"No such file or directory"}, "an input file does not exist or its path is unusable"},
	},
	pipeline.ToolMagick: {
		{[]string{"no decode delegate"}, "input format is not recognized; check the file type"},
		{[]string{"unable to open image"}, "cannot open the input file"},
	},
	pipeline.ToolSox: {
		{[]string{"no handler for file extension"}, "file extension is not supported or a codec is missing"},
		{[]string{"can't open input file"}, "cannot open the input file"},
	},
}

// Classify turns the stderr of a failed tool into a short message. It
// only shapes the text; every failure it sees is a tool failure.
func Classify(tool pipeline.Tool, stderr string, exitCode int) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Sprintf("exit code %d", exitCode)
	}

	for _, h := range hints[tool] {
		if containsAll(msg, h.all) {
			return h.message
		}
	}

	return truncate(msg, maxMessageBytes)
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	cut := n
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
