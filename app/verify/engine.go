package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lysyi3m/claim-comb/app/cache"
	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/prompt"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultQueryWords      = 12
	DefaultClassifyRetries = 1
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultLowConfidence   = 0.3
	DefaultRunTimeout      = 2 * time.Minute
)

const fallbackRationale = "The AI model could not produce a usable assessment, so the claim could not be verified. Review the listed evidence manually."

type Options struct {
	Model           string
	QueryWords      int
	PromptItems     int
	ClassifyRetries int
	RetryDelay      time.Duration
	// RevalidateAfter makes cache hits older than this window candidates
	// for revalidation against fresh evidence. Zero disables it.
	RevalidateAfter time.Duration
	LowConfidence   float64
	// RunTimeout bounds a shared computation, which outlives the caller
	// that started it.
	RunTimeout time.Duration
}

type Engine struct {
	resolver   Resolver
	fetcher    Fetcher
	classifier Classifier
	cache      ResultCache
	aggregator *evidence.Aggregator
	opts       Options
	group      singleflight.Group
	now        func() time.Time
}

func NewEngine(resolver Resolver, fetcher Fetcher, classifier Classifier, resultCache ResultCache,
	aggregator *evidence.Aggregator, opts Options) *Engine {
	if opts.QueryWords <= 0 {
		opts.QueryWords = DefaultQueryWords
	}
	if opts.PromptItems <= 0 {
		opts.PromptItems = prompt.MaxPromptItems
	}
	if opts.ClassifyRetries < 0 {
		opts.ClassifyRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if aggregator == nil {
		aggregator = evidence.NewAggregator(evidence.DefaultMaxItems, evidence.DefaultThreshold)
	}

	return &Engine{
		resolver:   resolver,
		fetcher:    fetcher,
		classifier: classifier,
		cache:      resultCache,
		aggregator: aggregator,
		opts:       opts,
		now:        time.Now,
	}
}

// Verify runs the pipeline for one input. Concurrent calls for the same
// claim share a single computation.
func (e *Engine) Verify(ctx context.Context, input string, mode Mode) (claim.Verdict, error) {
	started := time.Now()

	c, err := e.resolveClaim(ctx, input, mode)
	if err != nil {
		return claim.Verdict{}, err
	}

	if err := ctx.Err(); err != nil {
		return claim.Verdict{}, &Failure{Stage: StageCacheCheck, Reason: "verification was cancelled", Err: err}
	}

	fingerprint := c.Fingerprint()
	ch := e.group.DoChan(fingerprint, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RunTimeout)
		defer cancel()
		return e.run(runCtx, c)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		slog.Debug("Caller abandoned verification", "fingerprint", shortFingerprint(fingerprint), "error", ctx.Err())
		return claim.Verdict{}, &Failure{Stage: StageAssemble, Reason: "verification was cancelled", Err: ctx.Err()}
	}

	result, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			return claim.Verdict{}, failure
		}
		return claim.Verdict{}, &Failure{Stage: StageAssemble, Reason: "verification failed", Err: err}
	}

	verdict := result.(claim.Verdict)

	slog.Info("Verification completed",
		"fingerprint", shortFingerprint(fingerprint),
		"mode", string(mode),
		"label", string(verdict.Label),
		"confidence", verdict.Confidence,
		"evidence", len(verdict.TaggedEvidence),
		"cached", verdict.Cached,
		"shared", shared,
		"duration", time.Since(started))

	return verdict, nil
}

func (e *Engine) run(ctx context.Context, c claim.Claim) (claim.Verdict, error) {
	entry, fresh, stale := e.checkCache(ctx, c)
	if fresh {
		return entry.Verdict, nil
	}

	batches, err := e.fetchEvidence(ctx, c)
	if err != nil {
		return claim.Verdict{}, err
	}

	set := e.aggregator.Run(batches)
	evidenceHash := set.Hash()

	if stale && entry.EvidenceHash == evidenceHash {
		slog.Debug("Cached verdict revalidated", "fingerprint", shortFingerprint(c.Fingerprint()), "evidence_hash", evidenceHash)
		e.store(ctx, c, entry.Verdict, evidenceHash)
		return entry.Verdict, nil
	}

	request := prompt.Build(c, set, e.opts.PromptItems)

	result, err := e.classify(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return claim.Verdict{}, &Failure{Stage: StageClassify, Reason: "verification did not finish in time", Err: ctx.Err()}
		}
		slog.Error("Classification failed, returning fallback verdict", "fingerprint", shortFingerprint(c.Fingerprint()), "error", err)
		return e.fallback(c, set), nil
	}

	tagged := prompt.Tag(set, len(request.Items), result.Stances)
	verdict := e.assemble(c, result, tagged)

	e.store(ctx, c, verdict, evidenceHash)

	return verdict, nil
}

func (e *Engine) resolveClaim(ctx context.Context, input string, mode Mode) (claim.Claim, error) {
	switch mode {
	case ModeText, "":
		c, err := claim.New(input)
		if err != nil {
			return claim.Claim{}, &Failure{Stage: StageResolve, Reason: "claim text is empty", Err: fmt.Errorf("%w: %w", ErrInvalidInput, err)}
		}
		return c, nil

	case ModeURL:
		if strings.TrimSpace(input) == "" {
			return claim.Claim{}, &Failure{Stage: StageResolve, Reason: "url is empty", Err: ErrInvalidInput}
		}
		if e.resolver == nil {
			return claim.Claim{}, &Failure{Stage: StageResolve, Reason: "url verification is not available", Err: ErrResolutionFailed}
		}

		page, err := e.resolver.Resolve(ctx, input)
		if err != nil {
			slog.Warn("Failed to resolve URL", "url", input, "error", err)
			return claim.Claim{}, &Failure{Stage: StageResolve, Reason: "could not extract readable text from the url", Err: fmt.Errorf("%w: %w", ErrResolutionFailed, err)}
		}

		c, err := claim.New(claimText(page.Title, page.Text))
		if err != nil {
			return claim.Claim{}, &Failure{Stage: StageResolve, Reason: "the page has no readable text", Err: fmt.Errorf("%w: %w", ErrResolutionFailed, err)}
		}
		return c, nil

	default:
		return claim.Claim{}, &Failure{Stage: StageResolve, Reason: fmt.Sprintf("unknown mode %q", mode), Err: ErrInvalidInput}
	}
}

// checkCache reports a fresh hit, or a stale entry that may be revalidated
// against fresh evidence.
func (e *Engine) checkCache(ctx context.Context, c claim.Claim) (cache.Entry, bool, bool) {
	if e.cache == nil {
		return cache.Entry{}, false, false
	}

	entry, ok := e.cache.Lookup(ctx, c)
	if !ok {
		return cache.Entry{}, false, false
	}

	if e.opts.RevalidateAfter > 0 && entry.Age(e.now()) > e.opts.RevalidateAfter {
		return entry, false, true
	}

	entry.Verdict.Cached = true
	return entry, true, false
}

func (e *Engine) fetchEvidence(ctx context.Context, c claim.Claim) ([][]evidence.Item, error) {
	if e.fetcher == nil {
		return nil, nil
	}

	batches, err := e.fetcher.Fetch(ctx, c.Query(e.opts.QueryWords))
	if err != nil {
		return nil, &Failure{Stage: StageFetch, Reason: "evidence search did not finish in time", Err: err}
	}
	return batches, nil
}

func (e *Engine) classify(ctx context.Context, request prompt.Request) (prompt.Result, error) {
	backoff := retry.WithMaxRetries(uint64(e.opts.ClassifyRetries), retry.NewExponential(e.opts.RetryDelay))

	attempt := 0
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (prompt.Result, error) {
		attempt++

		raw, err := e.classifier.Classify(ctx, request)
		if err != nil {
			slog.Warn("AI call failed", "attempt", attempt, "error", err)
			return prompt.Result{}, retry.RetryableError(err)
		}

		result, err := prompt.Parse(raw)
		if err != nil {
			slog.Warn("AI response could not be parsed", "attempt", attempt, "error", err, "response_length", len(raw))
			return prompt.Result{}, retry.RetryableError(err)
		}

		return result, nil
	})
}

func (e *Engine) assemble(c claim.Claim, result prompt.Result, tagged []evidence.Tagged) claim.Verdict {
	label := result.Label
	confidence := result.Confidence

	if len(tagged) == 0 {
		if label.Decisive() {
			label = claim.LabelInsufficientEvidence
		}
		confidence = min(confidence, e.opts.LowConfidence)
	}

	return claim.Verdict{
		Fingerprint:    c.Fingerprint(),
		Claim:          c.Text,
		Label:          label,
		Confidence:     confidence,
		Rationale:      result.Rationale,
		TaggedEvidence: tagged,
		Model:          e.opts.Model,
		CreatedAt:      e.now().UTC(),
	}
}

func (e *Engine) fallback(c claim.Claim, set evidence.Set) claim.Verdict {
	return claim.Verdict{
		Fingerprint:    c.Fingerprint(),
		Claim:          c.Text,
		Label:          claim.LabelUnverified,
		Confidence:     0,
		Rationale:      fallbackRationale,
		TaggedEvidence: prompt.Tag(set, 0, nil),
		Model:          e.opts.Model,
		CreatedAt:      e.now().UTC(),
	}
}

func (e *Engine) store(ctx context.Context, c claim.Claim, verdict claim.Verdict, evidenceHash string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Store(ctx, c, verdict, evidenceHash); err != nil {
		slog.Error("Failed to cache verdict", "fingerprint", shortFingerprint(c.Fingerprint()), "error", err)
	}
}

func claimText(title, text string) string {
	if title == "" || strings.HasPrefix(text, title) {
		return text
	}
	return title + ". " + text
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
