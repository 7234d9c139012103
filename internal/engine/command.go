package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/harkaudio/hark/internal/logger"
)

// CommandEngine drives an external transcriber process. The process receives
// the audio path and options and writes JSON lines to stdout:
//
//	{"start": 0.0, "end": 4.2, "text": "..."}   transcript segment
//	{"progress": 42.0}                           progress marker
//
// Lines that parse as neither are ignored. A non-zero exit surfaces as an
// *Error carrying the stderr tail.
type CommandEngine struct {
	command     string
	modelSize   string
	device      string
	computeType string
}

// CommandOption configures a CommandEngine
type CommandOption func(*CommandEngine)

// WithModel sets model size, device, and compute type
func WithModel(size, device, computeType string) CommandOption {
	return func(e *CommandEngine) {
		e.modelSize = size
		e.device = device
		e.computeType = computeType
	}
}

// NewCommandEngine creates an engine around the given transcriber binary
func NewCommandEngine(command string, opts ...CommandOption) *CommandEngine {
	e := &CommandEngine{
		command:     command,
		modelSize:   "small",
		device:      "cpu",
		computeType: "default",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transcribe launches the transcriber process and returns a stream over its
// stdout. The returned stream owns the process; Close kills it if the caller
// abandons mid-flight.
func (e *CommandEngine) Transcribe(ctx context.Context, filePath string, opts *Options, onProgress ProgressFunc) (Stream, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	optJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, NewError("marshal options", err)
	}

	args := []string{
		"--model", e.modelSize,
		"--device", e.device,
		"--compute-type", e.computeType,
		"--output-format", "jsonl",
		"--options", string(optJSON),
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewError("open stdout pipe", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, NewError(fmt.Sprintf("start %s", e.command), err)
	}

	l := logger.WithComponent("engine")
	l.Debug().
		Str("command", e.command).
		Str("file", filePath).
		Msg("transcriber process started")

	return &commandStream{
		cmd:        cmd,
		scanner:    bufio.NewScanner(stdout),
		stderr:     &stderr,
		onProgress: onProgress,
	}, nil
}

type commandStream struct {
	cmd        *exec.Cmd
	scanner    *bufio.Scanner
	stderr     *strings.Builder
	onProgress ProgressFunc
	closeOnce  sync.Once
	waitErr    error
	done       bool
}

// outputLine is one stdout line from the transcriber: a segment, a progress
// marker, or noise.
type outputLine struct {
	Start    *float64 `json:"start"`
	End      *float64 `json:"end"`
	Text     *string  `json:"text"`
	Progress *float64 `json:"progress"`
}

func (s *commandStream) Next() (*Segment, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var out outputLine
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			continue
		}

		if out.Progress != nil {
			if s.onProgress != nil {
				s.onProgress(*out.Progress)
			}
			continue
		}

		if out.Start != nil && out.End != nil && out.Text != nil {
			return &Segment{
				Start: *out.Start,
				End:   *out.End,
				Text:  strings.TrimSpace(*out.Text),
			}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.finish()
		return nil, NewError("read transcriber output", err)
	}

	// Output exhausted; the exit code decides success
	s.finish()
	if s.waitErr != nil {
		return nil, NewError(s.errorDetail(), s.waitErr)
	}
	return nil, io.EOF
}

func (s *commandStream) finish() {
	s.closeOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	s.done = true
}

func (s *commandStream) errorDetail() string {
	tail := strings.TrimSpace(s.stderr.String())
	if len(tail) > 512 {
		tail = tail[len(tail)-512:]
	}
	if tail == "" {
		return "transcriber exited with error"
	}
	return "transcriber exited with error: " + tail
}

// Close terminates the transcriber if it is still running
func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.waitErr = s.cmd.Wait()
	})
	s.done = true
	return nil
}
