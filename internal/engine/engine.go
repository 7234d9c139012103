// Package engine defines the pluggable transcriber contract consumed by the
// worker, plus the subprocess-backed implementation shipped with hark.
package engine

import (
	"context"
	"fmt"
)

// Segment is one time-bounded piece of transcript produced by an engine
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// ProgressFunc receives a monotone percentage in [0, 100). Engines invoke it
// synchronously from Next.
type ProgressFunc func(percent float64)

// Stream is a finite pull-model sequence of segments in increasing start
// order. Next returns io.EOF after the last segment. Close releases engine
// resources; it is safe to call before exhaustion (mid-flight abandon).
type Stream interface {
	Next() (*Segment, error)
	Close() error
}

// Engine is a pluggable streaming transcriber. Transcribe opens the file and
// returns a lazy stream; it is restartable from the beginning only. Failures
// before or during streaming carry *Error.
type Engine interface {
	Transcribe(ctx context.Context, filePath string, opts *Options, onProgress ProgressFunc) (Stream, error)
}

// Error is a transcription engine failure
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %v", e.Message, e.Err)
	}
	return "engine: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an engine error
func NewError(message string, err error) *Error {
	return &Error{Message: message, Err: err}
}

// Options is the transcription configuration. Unset optional fields take
// engine-defined defaults; engines must not reinterpret provided fields.
type Options struct {
	// Language settings
	Language string `json:"language,omitempty"` // auto-detect when empty
	Task     string `json:"task"`               // "transcribe" or "translate"

	// Decoding parameters
	BeamSize    int       `json:"beam_size"`
	BestOf      int       `json:"best_of"`
	Patience    float64   `json:"patience"`
	Temperature []float64 `json:"temperature"` // fallback schedule, tried in order

	// Quality thresholds
	CompressionRatioThreshold *float64 `json:"compression_ratio_threshold,omitempty"`
	LogProbThreshold          *float64 `json:"log_prob_threshold,omitempty"`
	NoSpeechThreshold         *float64 `json:"no_speech_threshold,omitempty"`

	// Context control
	ConditionOnPreviousText bool   `json:"condition_on_previous_text"`
	InitialPrompt           string `json:"initial_prompt,omitempty"`

	// Timestamp settings
	WithoutTimestamps   bool    `json:"without_timestamps"`
	MaxInitialTimestamp float64 `json:"max_initial_timestamp"`
	WordTimestamps      bool    `json:"word_timestamps"`

	// Hallucination control
	HallucinationSilenceThreshold *float64 `json:"hallucination_silence_threshold,omitempty"`

	// VAD settings
	VADFilter     bool               `json:"vad_filter"`
	VADParameters map[string]float64 `json:"vad_parameters,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

// DefaultOptions returns the engine defaults
func DefaultOptions() *Options {
	return &Options{
		Task:                      "transcribe",
		BeamSize:                  5,
		BestOf:                    5,
		Patience:                  1.0,
		Temperature:               []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0},
		CompressionRatioThreshold: floatPtr(2.4),
		LogProbThreshold:          floatPtr(-1.0),
		NoSpeechThreshold:         floatPtr(0.6),
		ConditionOnPreviousText:   true,
		MaxInitialTimestamp:       1.0,
	}
}
