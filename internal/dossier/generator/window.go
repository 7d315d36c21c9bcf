package generator

import "leadpipeline_backend/internal/dossier/domain"

const (
	windowThreshold = 200
	windowHead      = 50
	windowTail      = 150
)

// Window is the part of a transcript that goes into the prompt.
// Positions are 1-based indexes into the original transcript.
type Window struct {
	Messages  []domain.Message
	Positions []int
	Omitted   int
}

// PromptWindow keeps every message of short transcripts. Longer ones keep the
// first 50 and the last 150 messages.
func PromptWindow(transcript []domain.Message) Window {
	n := len(transcript)
	if n <= windowThreshold {
		w := Window{Messages: transcript, Positions: make([]int, n)}
		for i := range transcript {
			w.Positions[i] = i + 1
		}
		return w
	}

	w := Window{
		Messages:  make([]domain.Message, 0, windowHead+windowTail),
		Positions: make([]int, 0, windowHead+windowTail),
		Omitted:   n - windowHead - windowTail,
	}
	for i := 0; i < windowHead; i++ {
		w.Messages = append(w.Messages, transcript[i])
		w.Positions = append(w.Positions, i+1)
	}
	for i := n - windowTail; i < n; i++ {
		w.Messages = append(w.Messages, transcript[i])
		w.Positions = append(w.Positions, i+1)
	}
	return w
}
