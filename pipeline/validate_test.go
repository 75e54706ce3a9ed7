package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(tool Tool, ext string, args ...string) Step {
	return Step{Tool: tool, Args: args, OutputExt: ext}
}

func requireReject(t *testing.T, err error, position int, kind RejectKind) *RejectError {
	t.Helper()
	require.Error(t, err)

	var rej *RejectError
	require.True(t, errors.As(err, &rej), "expected *RejectError, got %T", err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, position, rej.Step)
	assert.Equal(t, kind, rej.Kind)
	return rej
}

func TestValidateAcceptsSimpleStep(t *testing.T) {
	cmd := Command{Steps: []Step{
		step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "-vf", "hue=s=0", "{output}"),
	}}

	assert.NoError(t, Validate(cmd, NewIDSet("file-1")))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		step   Step
		kind   RejectKind
		reason string
	}{
		{
			name:   "unsupported tool",
			step:   step("bash", "mp4", "-c", "{input:file-1}", "{output}"),
			kind:   SchemaViolation,
			reason: "unsupported tool",
		},
		{
			name:   "empty args",
			step:   step(ToolSox, "wav"),
			kind:   SchemaViolation,
			reason: "no arguments",
		},
		{
			name:   "bad extension",
			step:   step(ToolMagick, "p.ng", "{input:file-1}", "{output}"),
			kind:   SchemaViolation,
			reason: "output extension",
		},
		{
			name:   "extension too long",
			step:   step(ToolMagick, "abcdefg", "{input:file-1}", "{output}"),
			kind:   SchemaViolation,
			reason: "output extension",
		},
		{
			name:   "missing output",
			step:   step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "out.mp4"),
			kind:   SchemaViolation,
			reason: "{output}",
		},
		{
			name:   "duplicate output",
			step:   step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "{output}", "{output}"),
			kind:   SchemaViolation,
			reason: "exactly once",
		},
		{
			name:   "missing input",
			step:   step(ToolFFmpeg, "mp4", "-f", "lavfi", "-i", "testsrc", "{output}"),
			kind:   SchemaViolation,
			reason: "{input:<id>}",
		},
		{
			name:   "unknown reference",
			step:   step(ToolFFmpeg, "mp4", "-i", "{input:file-9}", "{output}"),
			kind:   UnknownReference,
			reason: "does not exist",
		},
		{
			name: "unknown declared input",
			step: Step{
				Tool:         ToolFFmpeg,
				Args:         []string{"-i", "{input:file-1}", "{output}"},
				InputFileIDs: []string{"file-2"},
				OutputExt:    "mp4",
			},
			kind:   UnknownReference,
			reason: "does not exist",
		},
		{
			name:   "legacy input without id",
			step:   step(ToolSox, "wav", "{input}", "{output}"),
			kind:   UnknownReference,
			reason: "inputFileId",
		},
		{
			name:   "newline",
			step:   step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "-vf", "scale=1:1\n-y", "{output}"),
			kind:   SchemaViolation,
			reason: "line breaks",
		},
		{
			name:   "carriage return",
			step:   step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "a\rb", "{output}"),
			kind:   SchemaViolation,
			reason: "line breaks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Command{Steps: []Step{tt.step}}, NewIDSet("file-1"))
			rej := requireReject(t, err, 1, tt.kind)
			assert.Contains(t, rej.Reason, tt.reason)
		})
	}
}

func TestValidateEmptyCommand(t *testing.T) {
	requireReject(t, Validate(Command{}, NewIDSet("file-1")), 0, SchemaViolation)
}

func TestValidateMissingOutputOnLastStep(t *testing.T) {
	cmd := Command{Steps: []Step{
		step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "{output}"),
		step(ToolFFmpeg, "mp4", "-i", "{input:step-1}", "result.mp4"),
	}}

	rej := requireReject(t, Validate(cmd, NewIDSet("file-1")), 2, SchemaViolation)
	assert.Contains(t, rej.Reason, OutputPlaceholder)
}

func TestValidateUnsafePaths(t *testing.T) {
	unsafe := []string{
		"../secret",
		"/etc/passwd",
		`C:\x`,
		"C:/x",
		"~/.ssh/id_rsa",
		`\\server\share`,
		`a\..\b`,
		"movie=sub/../../x",
		"..",
	}

	for _, tool := range Tools {
		for _, arg := range unsafe {
			t.Run(string(tool)+" "+arg, func(t *testing.T) {
				front := step(tool, "png", arg, "{input:file-1}", "{output}")
				rej := requireReject(t, Validate(Command{Steps: []Step{front}}, NewIDSet("file-1")), 1, UnsafePath)
				assert.Contains(t, rej.Reason, "unauthorized path")

				back := step(tool, "png", "{input:file-1}", "{output}", arg)
				requireReject(t, Validate(Command{Steps: []Step{back}}, NewIDSet("file-1")), 1, UnsafePath)
			})
		}
	}
}

func TestValidateAllowsRelativeArguments(t *testing.T) {
	cmd := Command{Steps: []Step{
		step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "-vf", "scale=iw/2:ih/2,fps=30", "-c:v", "libx264", "{output}"),
		step(ToolMagick, "png", "{input:file-2}", "-resize", "50%", "{output}"),
	}}

	assert.NoError(t, Validate(cmd, NewIDSet("file-1", "file-2")))
}

func TestValidateStepReferences(t *testing.T) {
	three := func(refs ...string) Command {
		cmd := Command{}
		for _, ref := range refs {
			cmd.Steps = append(cmd.Steps, step(ToolFFmpeg, "mp4", "-i", "{input:"+ref+"}", "{output}"))
		}
		return cmd
	}

	t.Run("own id is rejected", func(t *testing.T) {
		requireReject(t, Validate(three("step-1"), NewIDSet("file-1")), 1, UnknownReference)
		requireReject(t, Validate(three("file-1", "step-2"), NewIDSet("file-1")), 2, UnknownReference)
	})

	t.Run("later id is rejected", func(t *testing.T) {
		requireReject(t, Validate(three("file-1", "step-3", "step-1"), NewIDSet("file-1")), 2, UnknownReference)
	})

	t.Run("step ids supplied by the caller are ignored", func(t *testing.T) {
		requireReject(t, Validate(three("step-1"), NewIDSet("file-1", "step-1")), 1, UnknownReference)
		requireReject(t, Validate(three("file-1", "step-2"), NewIDSet("file-1", "step-2", "step-3")), 2, UnknownReference)
		assert.NoError(t, Validate(three("file-1", "step-1"), NewIDSet("file-1", "step-1")))
	})

	t.Run("earlier ids are accepted", func(t *testing.T) {
		assert.NoError(t, Validate(three("file-1", "step-1", "step-1"), NewIDSet("file-1")))
		assert.NoError(t, Validate(three("file-1", "step-1", "step-2"), NewIDSet("file-1")))
	})
}

func TestValidateDoesNotModifyAvailable(t *testing.T) {
	ids := NewIDSet("file-1")
	cmd := Command{Steps: []Step{
		step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "{output}"),
		step(ToolFFmpeg, "mp4", "-i", "{input:step-1}", "{output}"),
	}}

	require.NoError(t, Validate(cmd, ids))
	assert.Equal(t, NewIDSet("file-1"), ids)
}

func TestValidateLegacyInput(t *testing.T) {
	s := Step{
		Tool:        ToolSox,
		Args:        []string{"{input}", "{output}", "reverse"},
		InputFileID: "file-1",
		OutputExt:   "wav",
	}

	assert.NoError(t, Validate(Command{Steps: []Step{s}}, NewIDSet("file-1")))

	s.InputFileID = "file-2"
	requireReject(t, Validate(Command{Steps: []Step{s}}, NewIDSet("file-1")), 1, UnknownReference)
}

func TestValidateEmbeddedReference(t *testing.T) {
	s := step(ToolFFmpeg, "mp4", "-i", "{input:file-1}", "-vf", "movie={input:file-3}[wm];[in][wm]overlay", "{output}")

	rej := requireReject(t, Validate(Command{Steps: []Step{s}}, NewIDSet("file-1")), 1, UnknownReference)
	assert.Contains(t, rej.Reason, "file-3")
}
