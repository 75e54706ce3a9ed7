package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"splice.sh/core/log"
	"splice.sh/core/pipeline"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"

	temperature = 0.2
)

var (
	// ErrMalformedOutput means the model answered, but not with a
	// pipeline. It is the only generator error that is retried.
	ErrMalformedOutput = errors.New("malformed generator output")
	ErrMissingAPIKey   = errors.New("no generator API key configured")
)

type FileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"type"`
}

type Request struct {
	Prompt string
	Files  []FileInfo
}

func (r Request) IDs() []string {
	ids := make([]string, len(r.Files))
	for i, f := range r.Files {
		ids[i] = f.ID
	}
	return ids
}

// Generator turns a natural-language request into a candidate
// pipeline. The result is untrusted and must be validated.
type Generator interface {
	Generate(ctx context.Context, req Request) (pipeline.Command, error)
}

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Merge returns o with every non-empty field of override applied.
func (o Options) Merge(override Options) Options {
	if s := strings.TrimSpace(override.APIKey); s != "" {
		o.APIKey = s
	}
	if s := strings.TrimSpace(override.BaseURL); s != "" {
		o.BaseURL = s
	}
	if s := strings.TrimSpace(override.Model); s != "" {
		o.Model = s
	}
	return o
}

// LLM is a Generator backed by a chat model.
type LLM struct {
	model llms.Model
	l     *slog.Logger
}

func New(ctx context.Context, model llms.Model) *LLM {
	return &LLM{
		model: model,
		l:     log.FromContext(ctx).With("component", "generator"),
	}
}

// NewOpenAI talks to any OpenAI-compatible chat completions endpoint.
func NewOpenAI(ctx context.Context, opts Options) (*LLM, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	model, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
		openai.WithBaseURL(opts.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return New(ctx, model), nil
}

// Generate asks the model for a pipeline. A reply that cannot be read
// as a pipeline is retried once with a stricter reminder; transport
// errors are returned as is.
func (g *LLM) Generate(ctx context.Context, req Request) (pipeline.Command, error) {
	messages, err := initialMessages(req)
	if err != nil {
		return pipeline.Command{}, err
	}

	var cmd pipeline.Command
	var lastReply string

	err = retry.Do(
		func() error {
			if lastReply != "" {
				messages = append(messages,
					llms.TextParts(llms.ChatMessageTypeAI, lastReply),
					llms.TextParts(llms.ChatMessageTypeHuman, reminder),
				)
			}

			resp, err := g.model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
			if err != nil {
				return fmt.Errorf("generator request: %w", err)
			}
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
				lastReply = "(empty reply)"
				return fmt.Errorf("%w: empty reply", ErrMalformedOutput)
			}

			lastReply = resp.Choices[0].Content
			cmd, err = pipeline.CommandFrom(pipeline.ParseGenerated(lastReply))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
			}
			return nil
		},
		retry.Attempts(2),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrMalformedOutput)
		}),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.l.Warn("retrying generation", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return pipeline.Command{}, err
	}

	g.l.Info("generated pipeline", "steps", len(cmd.Steps))
	return cmd, nil
}

const reminder = `Your previous reply could not be read as a pipeline. ` +
	`Reply again with exactly one JSON object of the form {"steps":[...]} ` +
	`and nothing else: no prose, no code fences.`

func systemPrompt(ids []string) string {
	var b strings.Builder
	b.WriteString("You generate media processing commands. Output JSON only, following this schema:\n")
	b.WriteString(`{"steps":[{"tool":"ffmpeg|magick|sox","args":["..."],"inputFileIds":["file-1"],"outputExt":"..."}]}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("1) The args of every step must contain the {output} placeholder exactly once.\n")
	b.WriteString("2) The args must contain one or more {input:<id>} placeholders.\n")
	b.WriteString("3) A step may use the output of an earlier step with {input:step-1}, {input:step-2} and so on; step 1 cannot reference step-1.\n")
	b.WriteString("4) Do not output any explanation.\n")
	b.WriteString("5) outputExt must be a sensible extension such as mp4, mp3, wav, png or jpg.\n")
	b.WriteString("6) Only use the provided file ids or ids of earlier steps. Never write file paths.\n")
	b.WriteString("7) Before concatenating videos, normalize resolution, sample aspect ratio, frame rate and audio sample rate (e.g. scale+pad+setsar+fps+aresample).\n")
	b.WriteString("8) To draw text, prefer the FFmpeg drawtext filter with an explicit font name; with subtitle files add -sub_charenc UTF-8.\n")
	fmt.Fprintf(&b, "9) Available file ids: %s", strings.Join(ids, ", "))
	return b.String()
}

func initialMessages(req Request) ([]llms.MessageContent, error) {
	ids := req.IDs()
	user, err := json.Marshal(struct {
		Prompt       string     `json:"prompt"`
		Files        []FileInfo `json:"files"`
		AvailableIDs []string   `json:"availableIds"`
	}{req.Prompt, req.Files, ids})
	if err != nil {
		return nil, err
	}

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(ids)),
		llms.TextParts(llms.ChatMessageTypeHuman, string(user)),
	}, nil
}
