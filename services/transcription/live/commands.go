package live

import (
	"regexp"
	"strings"

	"github.com/xilidan/workmate/services/transcription/entity"
)

// commandPattern matches "[WorkMate,] <intent>: <content>".
var commandPattern = regexp.MustCompile(`(?i)^\s*(?:workmate[,:]?\s+)?(action[ -]?item|decision|follow[ -]?up)\s*:\s*(.+?)\s*$`)

// ParseCommand maps an utterance onto the fixed command vocabulary. Anything
// outside it comes back unrecognized with IntentUnknown.
func ParseCommand(raw string) entity.VoiceCommand {
	cmd := entity.VoiceCommand{Intent: entity.IntentUnknown, Raw: raw}

	match := commandPattern.FindStringSubmatch(raw)
	if match == nil {
		return cmd
	}

	switch normalizeKeyword(match[1]) {
	case "actionitem":
		cmd.Intent = entity.IntentActionItem
	case "decision":
		cmd.Intent = entity.IntentDecision
	case "followup":
		cmd.Intent = entity.IntentFollowUp
	default:
		return cmd
	}
	cmd.Content = match[2]
	cmd.Recognized = true
	return cmd
}

// hasWakeWord reports whether a transcribed line addresses the assistant.
func hasWakeWord(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(t, "workmate")
}

func normalizeKeyword(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "-", "")
}
