package enrichment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"callbilling/internal/calls"
	"callbilling/internal/credits"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"

	"golang.org/x/sync/singleflight"
)

// CallStore is the slice of calls.Service the pipeline needs.
type CallStore interface {
	Get(ctx context.Context, id string) (calls.Call, error)
	Mutate(ctx context.Context, id string, fn func(*calls.Call) (bool, error)) (calls.Call, error)
}

// CreditGate is the slice of credits.Gate the pipeline needs.
type CreditGate interface {
	Available(ctx context.Context, organizationID string) (int64, error)
	Check(ctx context.Context, organizationID string, required int64) (int64, error)
	Spend(ctx context.Context, organizationID string, n int64, reference string) (int64, error)
}

type Pipeline struct {
	calls       CallStore
	credits     CreditGate
	fetcher     RecordingFetcher
	transcriber Transcriber
	analyst     Analyst
	archiver    Archiver
	prices      Prices

	group singleflight.Group
}

type Options struct {
	Calls       CallStore
	Credits     CreditGate
	Fetcher     RecordingFetcher
	Transcriber Transcriber
	Analyst     Analyst
	// Archiver is optional.
	Archiver Archiver
	Prices   Prices
}

func NewPipeline(o Options) *Pipeline {
	return &Pipeline{
		calls:       o.Calls,
		credits:     o.Credits,
		fetcher:     o.Fetcher,
		transcriber: o.Transcriber,
		analyst:     o.Analyst,
		archiver:    o.Archiver,
		prices:      o.Prices,
	}
}

// plan is what a request still has to do given what the call already holds.
type plan struct {
	transcribe bool
	summarize  bool
	required   int64
}

func (p *Pipeline) plan(c calls.Call, actions []Action) plan {
	var out plan
	for _, a := range actions {
		switch a {
		case ActionTranscribe:
			out.transcribe = out.transcribe || c.Transcription == ""
		case ActionSummarize:
			if c.Summary == "" || c.Outcome == "" {
				out.summarize = true
				// Summaries are built from the transcript.
				out.transcribe = out.transcribe || c.Transcription == ""
			}
		}
	}
	if out.transcribe {
		out.required += p.prices.Transcribe
	}
	if out.summarize {
		out.required += p.prices.Summarize
	}
	return out
}

// RequestEnrichment transcribes and/or summarizes a call. Credits are checked
// before any external request and deducted only after the results are
// persisted. Either every requested step is stored or none is.
// Identical concurrent requests share one execution.
func (p *Pipeline) RequestEnrichment(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.CallID) == "" || strings.TrimSpace(req.OrganizationID) == "" || len(req.Actions) == 0 {
		metrics.EnrichmentRequests.WithLabelValues("validation").Inc()
		return Result{}, fmt.Errorf("%w: call id, organization id and actions required", ErrValidation)
	}
	for _, a := range req.Actions {
		if a != ActionTranscribe && a != ActionSummarize {
			metrics.EnrichmentRequests.WithLabelValues("validation").Inc()
			return Result{}, fmt.Errorf("%w: unknown action %q", ErrValidation, a)
		}
	}

	v, err, _ := p.group.Do(req.key(), func() (any, error) {
		return p.run(ctx, req)
	})
	res, _ := v.(Result)
	metrics.EnrichmentRequests.WithLabelValues(resultLabel(err)).Inc()
	return res, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, credits.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrValidation), errors.Is(err, calls.ErrNotFound):
		return "validation"
	default:
		return "error"
	}
}

func (p *Pipeline) run(ctx context.Context, req Request) (Result, error) {
	log := logger.From(ctx).With("call_id", req.CallID, "organization_id", req.OrganizationID)

	call, err := p.calls.Get(ctx, req.CallID)
	if err != nil {
		return Result{}, err
	}
	if call.OrganizationID != req.OrganizationID {
		return Result{}, calls.ErrNotFound
	}

	pl := p.plan(call, req.Actions)
	if pl.required == 0 && !pl.transcribe && !pl.summarize {
		remaining, err := p.credits.Available(ctx, req.OrganizationID)
		if err != nil {
			return Result{}, err
		}
		return resultFor(call, req.Actions, 0, remaining), nil
	}

	if _, err := p.credits.Check(ctx, req.OrganizationID, pl.required); err != nil {
		return Result{}, err
	}

	transcript := call.Transcription
	if pl.transcribe {
		if call.RecordingURL == "" {
			return Result{}, fmt.Errorf("%w: call has no recording", ErrValidation)
		}
		transcript, err = p.transcribe(ctx, call)
		if err != nil {
			return Result{}, err
		}
	}

	var summary, outcome string
	if pl.summarize {
		summary, err = p.analyst.Summarize(ctx, transcript)
		if err != nil {
			return Result{}, upstream("summarize", err)
		}
		raw, err := p.analyst.Classify(ctx, transcript, summary)
		if err != nil {
			return Result{}, upstream("classify", err)
		}
		outcome = NormalizeOutcome(raw)
	}

	// Another request may have stored a step since the plan was made. Only
	// steps still empty in the current version are written and charged.
	var wrote plan
	call, err = p.calls.Mutate(ctx, call.ID, func(c *calls.Call) (bool, error) {
		wrote = plan{}
		if pl.transcribe && c.Transcription == "" {
			c.Transcription = transcript
			wrote.transcribe = true
			wrote.required += p.prices.Transcribe
		}
		if pl.summarize && (c.Summary == "" || c.Outcome == "") {
			c.Summary = summary
			c.Outcome = outcome
			wrote.summarize = true
			wrote.required += p.prices.Summarize
		}
		return wrote.transcribe || wrote.summarize, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist enrichment: %w", err)
	}
	if wrote.required < pl.required {
		log.Info("enrichment steps already stored by a concurrent request", "planned", pl.required, "charged", wrote.required)
	}

	var remaining int64
	if wrote.required == 0 {
		if remaining, err = p.credits.Available(ctx, req.OrganizationID); err != nil {
			return Result{}, err
		}
	} else {
		reference := "enrichment:" + call.ID + ":" + planLabel(wrote)
		remaining, err = p.credits.Spend(ctx, req.OrganizationID, wrote.required, reference)
		if err != nil {
			// Results are stored; a concurrent spend drained the balance after Check.
			log.Error("credit deduction after enrichment failed", "required", wrote.required, "err", err)
			remaining, _ = p.credits.Available(ctx, req.OrganizationID)
		} else {
			metrics.EnrichmentCreditsSpent.Add(float64(wrote.required))
		}
	}

	log.Info("call enriched", "transcribed", wrote.transcribe, "summarized", wrote.summarize, "credits_used", wrote.required, "outcome", call.Outcome)
	return resultFor(call, req.Actions, wrote.required, remaining), nil
}

func (p *Pipeline) transcribe(ctx context.Context, call calls.Call) (string, error) {
	rec, err := p.fetcher.Fetch(ctx, call.RecordingURL)
	if err != nil {
		return "", upstream("fetch recording", err)
	}
	if rec.Filename == "" {
		rec.Filename = path.Base(call.RecordingURL)
	}

	if p.archiver != nil {
		loc, err := p.archiver.Archive(ctx, call.ID, call.RecordingID, rec)
		if err != nil {
			logger.From(ctx).Warn("recording archive failed", "call_id", call.ID, "err", err)
		} else {
			logger.From(ctx).Info("recording archived", "call_id", call.ID, "location", loc)
		}
	}

	raw, err := p.transcriber.Transcribe(ctx, rec)
	if err != nil {
		return "", upstream("transcribe", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty transcription", ErrUpstream)
	}
	dialogue, err := p.analyst.Relabel(ctx, raw)
	if err != nil {
		return "", upstream("relabel transcript", err)
	}
	return dialogue, nil
}

func upstream(step string, err error) error {
	if errors.Is(err, ErrUpstream) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, step, err)
}

func planLabel(pl plan) string {
	switch {
	case pl.transcribe && pl.summarize:
		return "both"
	case pl.transcribe:
		return string(ActionTranscribe)
	default:
		return string(ActionSummarize)
	}
}

func resultFor(c calls.Call, actions []Action, used, remaining int64) Result {
	res := Result{CreditsUsed: used, RemainingCredits: remaining}
	for _, a := range actions {
		switch a {
		case ActionTranscribe:
			res.Transcription = c.Transcription
		case ActionSummarize:
			res.Transcription = c.Transcription
			res.Summary = c.Summary
			res.Outcome = c.Outcome
		}
	}
	return res
}
