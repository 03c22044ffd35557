package cli

import (
	"fmt"
	"strings"
)

const blankAudioToken = "[BLANK_AUDIO]"

func isBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}

	return strings.EqualFold(trimmed, blankAudioToken)
}

func noSpeechHint(audioPath string) string {
	return fmt.Sprintf("No speech detected in %s. Check the recording level and try again.", audioPath)
}
