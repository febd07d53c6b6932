package agent

import "github.com/haasonsaas/magi/pkg/models"

// repairTranscript drops function_call_output messages that don't correlate
// to a still-pending function_call (by CallID), and function_call messages
// that were evicted from history without ever getting an output, together
// with any message that would reference call IDs no longer present.
// history[0] is never dropped (§8: history[0] always reachable).
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]int)
	repaired := make([]models.Message, 0, len(history))

	for i, msg := range history {
		switch msg.Kind {
		case models.KindFunctionCall:
			if msg.CallID == "" {
				continue
			}
			pending[msg.CallID] = len(repaired)
			repaired = append(repaired, msg)
		case models.KindFunctionCallOutput:
			if i == 0 {
				repaired = append(repaired, msg)
				continue
			}
			if _, ok := pending[msg.CallID]; !ok {
				continue
			}
			delete(pending, msg.CallID)
			repaired = append(repaired, msg)
		default:
			repaired = append(repaired, msg)
		}
	}

	if len(pending) == 0 {
		return repaired
	}

	final := make([]models.Message, 0, len(repaired))
	for _, msg := range repaired {
		if msg.Kind == models.KindFunctionCall {
			if _, stillPending := pending[msg.CallID]; stillPending {
				continue
			}
		}
		final = append(final, msg)
	}
	if len(final) == 0 && len(history) > 0 {
		return history[:1]
	}
	return final
}
