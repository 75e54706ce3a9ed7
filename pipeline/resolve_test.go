package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveArgs(t *testing.T) {
	table := Table{
		"file-1": "/tmp/work/file-1.mp4",
		"step-1": "/tmp/work/step-1.png",
		"logo":   "/data/artifacts/abc.png",
	}

	tests := []struct {
		name string
		step Step
		want []string
	}{
		{
			name: "id-qualified inputs and output",
			step: step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "-i", "{input:logo}", "-y", "{output}"),
			want: []string{"-i", "/tmp/work/file-1.mp4", "-i", "/data/artifacts/abc.png", "-y", "/tmp/work/output.mp4"},
		},
		{
			name: "legacy input",
			step: Step{Tool: ToolSox, Args: []string{"{input}", "{output}"}, InputFileID: "file-1", OutputExt: "wav"},
			want: []string{"/tmp/work/file-1.mp4", "/tmp/work/output.mp4"},
		},
		{
			name: "unknown ids pass through",
			step: Step{Tool: ToolSox, Args: []string{"{input}", "{input:nope}", "{output}"}, InputFileID: "missing", OutputExt: "wav"},
			want: []string{"{input}", "{input:nope}", "/tmp/work/output.mp4"},
		},
		{
			name: "embedded placeholder stays literal",
			step: step(ToolFFmpeg, "mp4", "-vf", "movie={input:logo}", "{output}"),
			want: []string{"-vf", "movie={input:logo}", "/tmp/work/output.mp4"},
		},
		{
			name: "step reference",
			step: step(ToolMagick, "jpg", "{input:step-1}", "-quality", "80", "{output}"),
			want: []string{"/tmp/work/step-1.png", "-quality", "80", "/tmp/work/output.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveArgs(tt.step, table, "/tmp/work/output.mp4")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveArgsIsPure(t *testing.T) {
	s := step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "{output}")
	table := Table{"file-1": "/nonexistent/dir/file-1.mp4"}
	args := append([]string(nil), s.Args...)

	first := ResolveArgs(s, table, "/nonexistent/out.mp4")
	second := ResolveArgs(s, table, "/nonexistent/out.mp4")

	assert.Equal(t, first, second)
	assert.Equal(t, args, s.Args, "step args must not be modified")
	assert.Equal(t, Table{"file-1": "/nonexistent/dir/file-1.mp4"}, table)
}

func TestUnresolved(t *testing.T) {
	table := Table{"file-1": "/a"}

	assert.Empty(t, Unresolved(step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "{output}"), table))
	assert.Equal(t, []string{"file-2"}, Unresolved(step(ToolFFmpeg, "mp4", "-i", "{input:file-2}", "{output}"), table))
	assert.Equal(t, []string{LegacyInputPlaceholder}, Unresolved(Step{Args: []string{"{input}"}}, table))
	assert.Empty(t, Unresolved(step(ToolFFmpeg, "mp4", "movie={input:zzz}", "{output}"), table))
}
