// Package transcribe assembles prompts and audio payloads for the generative
// model that produces synchronized subtitles. The model does the real work;
// callers must settle an entitlement debit before invoking a Generator.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// OutputLanguage selects how Tamil speech is rendered in the subtitles.
type OutputLanguage string

const (
	// OutputThanglish transliterates Tamil speech into Latin script.
	OutputThanglish OutputLanguage = "thanglish"
	// OutputEnglish translates Tamil speech into English.
	OutputEnglish OutputLanguage = "english"
)

// SubtitleFormat is the container for the generated subtitle text.
type SubtitleFormat string

const (
	FormatSRT SubtitleFormat = "srt"
	FormatVTT SubtitleFormat = "vtt"
)

var (
	ErrInvalidRequest   = errors.New("invalid transcription request")
	ErrGenerationFailed = errors.New("subtitle generation failed")
)

// Request describes one subtitle generation call.
type Request struct {
	Audio         []byte
	MimeType      string
	Language      OutputLanguage
	Format        SubtitleFormat
	MaxLineLength int
}

// Result carries the generated subtitle file text.
type Result struct {
	SubtitleText string
}

// Generator produces synchronized subtitles for a Tamil audio clip.
type Generator interface {
	Generate(ctx context.Context, request Request) (Result, error)
}

// Validate rejects requests the model cannot serve.
func (request Request) Validate() error {
	if len(request.Audio) == 0 {
		return fmt.Errorf("%w: empty audio payload", ErrInvalidRequest)
	}
	if request.MimeType == "" {
		return fmt.Errorf("%w: missing mime type", ErrInvalidRequest)
	}
	switch request.Language {
	case OutputThanglish, OutputEnglish:
	default:
		return fmt.Errorf("%w: unsupported output language %q", ErrInvalidRequest, request.Language)
	}
	switch request.Format {
	case FormatSRT, FormatVTT:
	default:
		return fmt.Errorf("%w: unsupported subtitle format %q", ErrInvalidRequest, request.Format)
	}
	return nil
}

// BuildPrompt assembles the model instruction for the requested output.
func BuildPrompt(request Request) string {
	var prompt strings.Builder
	prompt.WriteString("Transcribe the attached Tamil audio into synchronized subtitles.\n")
	switch request.Language {
	case OutputEnglish:
		prompt.WriteString("Translate every spoken line into natural English.\n")
	default:
		prompt.WriteString("Transliterate every spoken line into Thanglish: Tamil words written in Latin script, keeping the original wording.\n")
	}
	if request.Format == FormatVTT {
		prompt.WriteString("Return a complete WebVTT file starting with the WEBVTT header, cue timings as HH:MM:SS.mmm --> HH:MM:SS.mmm.\n")
	} else {
		prompt.WriteString("Return a complete SRT file: numbered cues, timings as HH:MM:SS,mmm --> HH:MM:SS,mmm.\n")
	}
	if request.MaxLineLength > 0 {
		fmt.Fprintf(&prompt, "Keep each subtitle line under %d characters.\n", request.MaxLineLength)
	}
	prompt.WriteString("Align cue timings with the spoken audio. Output only the subtitle file, no commentary.")
	return prompt.String()
}
