package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation = errors.New("enrichment: invalid request")
	ErrUpstream   = errors.New("enrichment: upstream failure")
)

type Action string

const (
	ActionTranscribe Action = "transcribe"
	ActionSummarize  Action = "summarize"
)

// ParseActions accepts "transcribe", "summarize" or "both".
func ParseActions(raw string) ([]Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ActionTranscribe):
		return []Action{ActionTranscribe}, nil
	case string(ActionSummarize):
		return []Action{ActionSummarize}, nil
	case "both":
		return []Action{ActionTranscribe, ActionSummarize}, nil
	default:
		return nil, fmt.Errorf("%w: action must be transcribe, summarize or both", ErrValidation)
	}
}

// Request asks for AI enrichment of one call. OrganizationID scopes the
// lookup: calls of other organizations are reported as not found.
type Request struct {
	CallID         string
	OrganizationID string
	Actions        []Action
}

func (r Request) key() string {
	acts := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		acts = append(acts, string(a))
	}
	sort.Strings(acts)
	return r.OrganizationID + "|" + r.CallID + "|" + strings.Join(acts, ",")
}

type Result struct {
	Transcription    string `json:"transcription,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Outcome          string `json:"outcome,omitempty"`
	CreditsUsed      int64  `json:"creditsUsed"`
	RemainingCredits int64  `json:"remainingCredits"`
}

// Prices are the fixed credit costs per action.
type Prices struct {
	Transcribe int64
	Summarize  int64
}

// Recording is downloaded call audio.
type Recording struct {
	Data        []byte
	ContentType string
	// Filename is passed to the transcription API, which infers the format from it.
	Filename string
}

type RecordingFetcher interface {
	Fetch(ctx context.Context, url string) (Recording, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, rec Recording) (string, error)
}

// Analyst runs the chat-model passes over a transcript.
type Analyst interface {
	// Relabel rewrites a raw transcript as an Agent/Customer dialogue.
	Relabel(ctx context.Context, transcript string) (string, error)
	Summarize(ctx context.Context, transcript string) (string, error)
	// Classify returns free text naming the call outcome.
	Classify(ctx context.Context, transcript, summary string) (string, error)
}

// Archiver copies a recording to long-term storage and returns its location.
type Archiver interface {
	Archive(ctx context.Context, callID, recordingID string, rec Recording) (string, error)
}
