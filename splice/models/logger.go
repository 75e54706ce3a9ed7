package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogKind string

const (
	LogKindData    LogKind = "data"
	LogKindControl LogKind = "control"
)

type StepStatus string

const (
	StepStatusStart StepStatus = "start"
	StepStatusEnd   StepStatus = "end"
)

// LogLine is a single JSON line of a run log. Data lines carry tool
// output; control lines mark step boundaries.
type LogLine struct {
	Kind    LogKind    `json:"kind"`
	Time    time.Time  `json:"time"`
	Step    int        `json:"step"`
	Content string     `json:"content"`
	Stream  string     `json:"stream,omitempty"`
	Status  StepStatus `json:"status,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func NewDataLogLine(step int, content, stream string) LogLine {
	return LogLine{
		Kind:    LogKindData,
		Time:    time.Now(),
		Step:    step,
		Content: content,
		Stream:  stream,
	}
}

func NewControlLogLine(step int, command string, status StepStatus) LogLine {
	return LogLine{
		Kind:    LogKindControl,
		Time:    time.Now(),
		Step:    step,
		Content: command,
		Status:  status,
	}
}

type RunLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

func NewRunLogger(baseDir, runID string) (*RunLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, runID)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &RunLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir, runID string) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", runID))
}

func (l *RunLogger) Close() error {
	return l.file.Close()
}

func (l *RunLogger) encode(entry LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(entry)
}

// DataWriter returns a writer that emits one data line per line of
// input written to it.
func (l *RunLogger) DataWriter(step int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		step:   step,
		stream: stream,
	}
}

func (l *RunLogger) StepStarted(step int, command string) error {
	return l.encode(NewControlLogLine(step, command, StepStatusStart))
}

func (l *RunLogger) StepFinished(step int, command string, stepErr error) error {
	entry := NewControlLogLine(step, command, StepStatusEnd)
	if stepErr != nil {
		entry.Error = stepErr.Error()
	}
	return l.encode(entry)
}

type dataWriter struct {
	logger *RunLogger
	step   int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\r\n")
	if text == "" {
		return len(p), nil
	}

	for line := range strings.SplitSeq(text, "\n") {
		entry := NewDataLogLine(w.step, strings.TrimRight(line, "\r"), w.stream)
		if err := w.logger.encode(entry); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
