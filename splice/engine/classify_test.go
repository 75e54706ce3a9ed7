package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"splice.sh/core/pipeline"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tool     pipeline.Tool
		stderr   string
		exitCode int
		contains string
	}{
		{"empty stderr", pipeline.ToolFFmpeg, "  \n", 3, "exit code 3"},
		{"media mismatch", pipeline.ToolFFmpeg, "[fc#0] Media type mismatch between the 'Parsed_scale_0' filter", 1, "audio and video"},
		{"sar", pipeline.ToolFFmpeg, "Input link in1:v0 parameters (size 640x480, SAR 1:1) do not match the corresponding output link in0:v0 parameters (640x480, SAR 4:3)", 1, "setsar=1"},
		{"size", pipeline.ToolFFmpeg, "parameters (size 640x480) do not match the corresponding output", 1, "resolution"},
		{"reinit", pipeline.ToolFFmpeg, "Error reinitializing filters!", 1, "filter graph configuration"},
		{"invalid", pipeline.ToolFFmpeg, "Error opening output file: Invalid argument", 1, "invalid arguments"},
		{"missing input", pipeline.ToolFFmpeg, "/tmp/x.mp4: No such file or directory", 1, "does not exist"},
		{"magick delegate", pipeline.ToolMagick, "magick: no decode delegate for this image format `' @ error/constitute.c/ReadImage/746.", 1, "not recognized"},
		{"magick open", pipeline.ToolMagick, "magick: unable to open image 'x.png': No such file or directory", 1, "cannot open"},
		{"sox handler", pipeline.ToolSox, "sox FAIL formats: no handler for file extension `xyz'", 2, "not supported"},
		{"sox open", pipeline.ToolSox, "sox FAIL formats: can't open input file `in.wav': No such file or directory", 2, "cannot open"},
		{"unknown passes through", pipeline.ToolSox, "something odd happened", 1, "something odd happened"},
		{"hints are per tool", pipeline.ToolMagick, "Media type mismatch", 1, "Media type mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Classify(tt.tool, tt.stderr, tt.exitCode), tt.contains)
		})
	}
}

func TestClassifyTruncates(t *testing.T) {
	long := strings.Repeat("é", maxMessageBytes)
	msg := Classify(pipeline.ToolFFmpeg, long, 1)

	assert.LessOrEqual(t, len(msg), maxMessageBytes+len("…"))
	assert.True(t, strings.HasSuffix(msg, "…"))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(msg, "…")))
}
