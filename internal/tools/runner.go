// Package tools defines the contract every performance-audit tool implements,
// the immutable tool catalog, and the registry that maps codes to runners.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// Runner audits one target URL with one tool.
//
// Ordinary tool-side failures (timeouts, missing selectors, remote API
// errors) come back as a failed Outcome with a nil error. A non-nil error
// means the shared automation context is unusable and aborts the whole run;
// it should be a *FatalError.
type Runner interface {
	Run(ctx context.Context, target *url.URL, env Env) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, target *url.URL, env Env) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, target *url.URL, env Env) (Outcome, error) {
	return f(ctx, target, env)
}

// Env is what a runner gets to work with during one run.
type Env struct {
	// Browser is shared by every runner of the run.
	Browser webclient.Browser
	// HTTP is used for REST-style tools.
	HTTP webclient.WebClient
	// Artifacts writes into the run's namespace.
	Artifacts ArtifactWriter
	Logger    logging.Logger
}

// ArtifactWriter stores named blobs for the current run.
type ArtifactWriter interface {
	Write(name string, data []byte) error
	URL(name string) string
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the settled result of one tool in one run.
type Outcome struct {
	ToolCode   string        `json:"toolCode"`
	Status     Status        `json:"status"`
	ResultsURL string        `json:"resultsUrl,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`

	Screenshot []byte `json:"-"`
	ReportHTML string `json:"-"`
}

// Succeeded reports whether the tool produced a result.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Failed builds a tool-level failure outcome.
func Failed(code string, err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{ToolCode: code, Status: StatusFailed, Error: msg}
}

// ErrFatal marks errors that invalidate the shared automation context.
var ErrFatal = errors.New("automation context lost")

// FatalError is returned by a runner when the run cannot continue.
type FatalError struct {
	Code string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Code, ErrFatal, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}

// Settle maps a runner-internal error onto the Runner contract: losing the
// browser is fatal, anything else is a failed Outcome.
func Settle(code string, b webclient.Browser, err error) (Outcome, error) {
	if webclient.IsContextLost(b, err) {
		return Outcome{}, &FatalError{Code: code, Err: err}
	}
	return Failed(code, err), nil
}
