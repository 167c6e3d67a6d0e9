package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lysyi3m/claim-comb/app/adapters"
	"github.com/lysyi3m/claim-comb/app/cache"
	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/llm"
	"github.com/lysyi3m/claim-comb/app/prompt"
	"github.com/lysyi3m/claim-comb/app/resolve"
)

type Mode string

const (
	ModeText Mode = "text"
	ModeURL  Mode = "url"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText, "":
		return ModeText, nil
	case ModeURL:
		return ModeURL, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, s)
	}
}

type Stage string

const (
	StageResolve    Stage = "resolve"
	StageCacheCheck Stage = "cache_check"
	StageFetch      Stage = "fetch"
	StageAggregate  Stage = "aggregate"
	StageClassify   Stage = "classify"
	StageTag        Stage = "tag"
	StageAssemble   Stage = "assemble"
)

var (
	ErrResolutionFailed = errors.New("resolution failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// Failure is the only error type returned by Engine.Verify. Reason is safe
// to show to the caller.
type Failure struct {
	Stage  Stage
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Stage, f.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", f.Stage, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (resolve.Page, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, query string) ([][]evidence.Item, error)
}

type Classifier interface {
	Classify(ctx context.Context, request prompt.Request) (string, error)
}

type ResultCache interface {
	Lookup(ctx context.Context, c claim.Claim) (cache.Entry, bool)
	Store(ctx context.Context, c claim.Claim, verdict claim.Verdict, evidenceHash string) error
}

var (
	_ Resolver    = (*resolve.Resolver)(nil)
	_ Fetcher     = (*adapters.Fetcher)(nil)
	_ Classifier  = (*llm.Client)(nil)
	_ ResultCache = (*cache.Cache)(nil)
)
