// Package progress carries run progress from the coordinator to any number
// of observers. Events are typed and transport independent; the websocket
// framing lives in stream.go.
package progress

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindToolDone    Kind = "tool-done"
	KindRunComplete Kind = "run-complete"
	KindRunError    Kind = "run-error"
)

// Tool statuses carried by tool-done events.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrMalformed is returned for events that are not one of the known shapes.
var ErrMalformed = errors.New("malformed progress event")

// Event is a tagged union on Kind. Only the fields of the event's kind are
// set:
//
//	tool-done:    ToolCode, Status, ResultsURL?, ScreenshotURL?, Detail?
//	run-complete: ViewURL, PDFURL?, PublicURL?, ShortURL?
//	run-error:    Detail
type Event struct {
	Kind Kind `json:"kind"`

	ToolCode      string `json:"toolCode,omitempty"`
	Status        string `json:"status,omitempty"`
	ResultsURL    string `json:"resultsUrl,omitempty"`
	ScreenshotURL string `json:"screenshotUrl,omitempty"`

	ViewURL   string `json:"viewUrl,omitempty"`
	PDFURL    string `json:"pdfUrl,omitempty"`
	PublicURL string `json:"publicUrl,omitempty"`
	ShortURL  string `json:"shortUrl,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// ToolDone reports one settled tool.
func ToolDone(code, status, resultsURL, screenshotURL, detail string) Event {
	return Event{
		Kind:          KindToolDone,
		ToolCode:      code,
		Status:        status,
		ResultsURL:    resultsURL,
		ScreenshotURL: screenshotURL,
		Detail:        detail,
	}
}

// RunComplete is the terminal event of a successful run.
func RunComplete(viewURL, pdfURL, publicURL, shortURL string) Event {
	return Event{
		Kind:      KindRunComplete,
		ViewURL:   viewURL,
		PDFURL:    pdfURL,
		PublicURL: publicURL,
		ShortURL:  shortURL,
	}
}

// RunError is the terminal event of a failed run.
func RunError(detail string) Event {
	return Event{Kind: KindRunError, Detail: detail}
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Kind == KindRunComplete || e.Kind == KindRunError
}

// Validate checks that e is a well-formed event of its kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindToolDone:
		if e.ToolCode == "" {
			return fmt.Errorf("%w: tool-done without toolCode", ErrMalformed)
		}
		switch e.Status {
		case StatusSucceeded:
		case StatusFailed:
			if e.Detail == "" {
				return fmt.Errorf("%w: failed tool-done without detail", ErrMalformed)
			}
		default:
			return fmt.Errorf("%w: tool-done status %q", ErrMalformed, e.Status)
		}
		if e.ViewURL != "" || e.PDFURL != "" || e.PublicURL != "" || e.ShortURL != "" {
			return fmt.Errorf("%w: tool-done carries run-complete fields", ErrMalformed)
		}
	case KindRunComplete:
		if e.ViewURL == "" {
			return fmt.Errorf("%w: run-complete without viewUrl", ErrMalformed)
		}
		if e.ToolCode != "" || e.Status != "" || e.Detail != "" {
			return fmt.Errorf("%w: run-complete carries tool fields", ErrMalformed)
		}
	case KindRunError:
		if e.Detail == "" {
			return fmt.Errorf("%w: run-error without detail", ErrMalformed)
		}
		if e.ToolCode != "" || e.ViewURL != "" {
			return fmt.Errorf("%w: run-error carries foreign fields", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	return nil
}
