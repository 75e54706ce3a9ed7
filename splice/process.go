package splice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"splice.sh/core/log"
	"splice.sh/core/pipeline"
	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/artifacts"
	"splice.sh/core/splice/engine"
	"splice.sh/core/splice/generator"
	"splice.sh/core/splice/models"
	"splice.sh/core/splice/queue"
)

// maxMemory bounds how much of a multipart form is held in memory;
// the rest spills to temporary files.
const maxMemory = 32 << 20

var (
	errQueueFull = errors.New("pipeline queue is full")
	errGenerator = errors.New("generator request failed")
)

type inputs struct {
	files       []generator.FileInfo
	table       pipeline.Table
	artifactIDs []string
}

func (s *Splice) Process(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Process")
	ctx := r.Context()

	if s.t != nil {
		var span oteltrace.Span
		ctx, span = s.t.TraceStart(ctx, "process")
		defer span.End()
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, apierr.BadRequestError(fmt.Sprintf("invalid form: %v", err)), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		writeError(w, apierr.BadRequestError("missing processing prompt"), http.StatusBadRequest)
		return
	}

	ws, err := os.MkdirTemp("", "splice-run-")
	if err != nil {
		l.Error("failed to create workspace", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(ws)

	// reused artifacts stay pinned from lookup until the run is over,
	// even if newer outputs push them past capacity
	in, unpin, err := s.collectInputs(r, ws)
	if err != nil {
		if !isInputError(err) {
			l.Error("failed to collect inputs", "error", err)
		}
		e, status := errorResponse(err)
		writeError(w, e, status)
		return
	}
	defer unpin()

	runID := uuid.NewString()
	ctx, l = log.ForRun(log.IntoContext(ctx, l), runID)
	if err := s.db.CreateRun(runID, prompt, s.n); err != nil {
		l.Error("failed to create run", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Run-Id", runID)

	res, cmd, err := s.generateAndExecute(ctx, r, l, runID, prompt, in, ws)
	if err != nil {
		s.fail(l, runID, prompt, in.artifactIDs, err)
		e, status := errorResponse(err)
		writeError(w, e, status)
		return
	}

	a, err := s.store.PersistFile(ctx, res.Path, contentTypeFor(res.Ext, ""), res.Name)
	if err != nil {
		l.Error("failed to persist output", "error", err)
		s.fail(l, runID, prompt, in.artifactIDs, fmt.Errorf("%w: persisting output: %v", engine.ErrInternal, err))
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	if err := s.db.MarkRunSuccess(runID, a.ID, s.n); err != nil {
		l.Error("failed to mark run successful", "error", err)
	}
	s.record(l, prompt, in.artifactIDs, models.RoleAssistant, describe(cmd, a.Name, a.Size), []string{a.ID})

	s.serveOutput(w, l, res, a.ID)
}

// collectInputs saves the uploads into ws and resolves reused
// artifacts and aliases into one reference table. On success the
// reused artifacts are pinned until the returned func is called.
func (s *Splice) collectInputs(r *http.Request, ws string) (inputs, func(), error) {
	files, table, err := saveUploads(ws, r.MultipartForm.File["files"])
	if err != nil {
		return inputs{}, nil, err
	}
	in := inputs{files: files, table: table}

	reused, unpin, err := s.store.PinLookup(formList(r, "artifactIds")...)
	var missing *artifacts.MissingError
	if errors.As(err, &missing) {
		return inputs{}, nil, badInput("referenced artifact does not exist: %s", missing.ID)
	}
	if err != nil {
		return inputs{}, nil, err
	}

	for _, a := range reused {
		in.table[a.ID] = a.Path
		in.artifactIDs = append(in.artifactIDs, a.ID)
		in.files = append(in.files, generator.FileInfo{ID: a.ID, Name: a.Name, ContentType: a.ContentType})
	}

	if err := addAliases(&in, r.FormValue("aliases")); err != nil {
		unpin()
		return inputs{}, nil, err
	}

	if len(in.table) == 0 {
		unpin()
		return inputs{}, nil, badInput("no files uploaded or referenced")
	}

	return in, unpin, nil
}

func addAliases(in *inputs, raw string) error {
	if raw == "" {
		return nil
	}

	var aliases map[string]string
	if err := json.Unmarshal([]byte(raw), &aliases); err != nil {
		return badInput("aliases must be a JSON object mapping alias to id")
	}
	for alias, id := range aliases {
		path, ok := in.table[id]
		if !ok {
			return badInput("alias %q refers to unknown id %q", alias, id)
		}
		if _, taken := in.table[alias]; taken || !validAlias(alias) {
			return badInput("invalid alias %q", alias)
		}
		in.table[alias] = path
		in.files = append(in.files, generator.FileInfo{ID: alias, Name: alias, ContentType: contentTypeFor(extOf(path), "")})
	}
	return nil
}

func (s *Splice) generateAndExecute(ctx context.Context, r *http.Request, l *slog.Logger, runID, prompt string, in inputs, ws string) (engine.Result, pipeline.Command, error) {
	gen, err := s.gen(ctx, generator.Options{
		APIKey:  r.FormValue("apiKey"),
		BaseURL: r.FormValue("baseUrl"),
		Model:   r.FormValue("model"),
	})
	if err != nil {
		return engine.Result{}, pipeline.Command{}, err
	}

	cmd, err := gen.Generate(ctx, generator.Request{Prompt: prompt, Files: in.files})
	if err != nil {
		if !errors.Is(err, generator.ErrMalformedOutput) {
			err = fmt.Errorf("%w: %w", errGenerator, err)
		}
		return engine.Result{}, cmd, err
	}
	l.Info("generated pipeline", "steps", len(cmd.Steps))

	// reject before taking a queue slot
	if err := pipeline.Validate(cmd, in.table.IDs()); err != nil {
		l.Warn("pipeline rejected", "error", err)
		return engine.Result{}, cmd, err
	}

	res, err := s.execute(ctx, l, runID, cmd, in.table, ws)
	return res, cmd, err
}

type outcome struct {
	res engine.Result
	err error
}

// execute runs cmd on a queue worker and waits for it. The wait is
// unconditional: the job owns ws until it returns, and a cancelled
// ctx makes it return promptly.
func (s *Splice) execute(ctx context.Context, l *slog.Logger, runID string, cmd pipeline.Command, table pipeline.Table, ws string) (engine.Result, error) {
	done := make(chan outcome, 1)

	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			res, err := s.runJob(ctx, l, runID, cmd, table, ws)
			done <- outcome{res, err}
			return err
		},
		OnFail: func(jobError error) {
			l.Error("pipeline run failed", "error", jobError)
		},
	})
	if !ok {
		l.Error("failed to enqueue pipeline: queue is full")
		return engine.Result{}, errQueueFull
	}
	l.Info("pipeline enqueued successfully")

	out := <-done
	return out.res, out.err
}

func (s *Splice) runJob(ctx context.Context, l *slog.Logger, runID string, cmd pipeline.Command, table pipeline.Table, ws string) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	if err := s.db.MarkRunRunning(runID, s.n); err != nil {
		l.Warn("failed to mark run running", "error", err)
	}

	var opts []engine.ExecuteOpt
	rl, err := models.NewRunLogger(s.cfg.Pipelines.LogDir, runID)
	if err != nil {
		l.Warn("failed to open run log", "error", err)
	} else {
		defer rl.Close()
		opts = append(opts, engine.WithRunLogger(rl))
	}

	return s.exec.Execute(ctx, cmd, table, ws, opts...)
}

// fail records a failed run in the status table and the transcript.
func (s *Splice) fail(l *slog.Logger, runID, prompt string, inputIDs []string, err error) {
	step, cause := engine.Failure(err)

	var dbErr error
	if errors.Is(cause, engine.ErrTimedOut) {
		dbErr = s.db.MarkRunTimeout(runID, step, cause.Error(), s.n)
	} else {
		dbErr = s.db.MarkRunFailed(runID, step, err.Error(), s.n)
	}
	if dbErr != nil {
		l.Error("failed to record run failure", "error", dbErr)
	}

	s.record(l, prompt, inputIDs, models.RoleSystem, "Processing failed: "+err.Error(), nil)
}

// record appends the user's prompt and the reply to the transcript.
func (s *Splice) record(l *slog.Logger, prompt string, inputIDs []string, role models.Role, reply string, replyIDs []string) {
	if _, err := s.db.AddMessage(models.RoleUser, prompt, inputIDs); err != nil {
		l.Error("failed to record message", "error", err)
		return
	}
	if _, err := s.db.AddMessage(role, reply, replyIDs); err != nil {
		l.Error("failed to record message", "error", err)
	}
}

func (s *Splice) serveOutput(w http.ResponseWriter, l *slog.Logger, res engine.Result, artifactID string) {
	f, err := os.Open(res.Path)
	if err != nil {
		l.Error("failed to open output", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentTypeFor(res.Ext, ""))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Name}))
	h.Set("X-Output-Filename", res.Name)
	h.Set("X-Artifact-Id", artifactID)
	if fi, err := f.Stat(); err == nil {
		h.Set("Content-Length", fmt.Sprint(fi.Size()))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		l.Warn("failed to send output", "error", err)
	}
}

func describe(cmd pipeline.Command, name string, size int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generated %s (%s)", name, humanize.Bytes(uint64(size)))
	for i, step := range cmd.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step.Tool)
		if step.Reasoning != "" {
			fmt.Fprintf(&b, ": %s", step.Reasoning)
		}
	}
	return b.String()
}

func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.MultipartForm.Value[key] {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return ""
}
