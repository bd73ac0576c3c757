package collab

import (
	"context"

	"github.com/hrygo/valet/internal/errkind"
)

// UnconfiguredSpeech rejects every call. Voice flows degrade to text
// until a real transcription backend is wired.
type UnconfiguredSpeech struct{}

func (UnconfiguredSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errkind.New(errkind.Validation, "speech transcription is not configured")
}

func (UnconfiguredSpeech) Synthesize(context.Context, string, string) ([]byte, error) {
	return nil, errkind.New(errkind.Validation, "speech synthesis is not configured")
}
