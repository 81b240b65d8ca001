package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/idna"

	"github.com/raysh454/perfsandbox/internal/webclient"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid run request")

// ValidationError rejects a RunRequest before anything is dispatched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RunRequest asks for one audit of TargetURL by the tools in ToolCodes.
// Headless overrides the configured default when set.
type RunRequest struct {
	TargetURL string   `json:"url" validate:"required,max=2048"`
	ToolCodes []string `json:"tools" validate:"required,min=1,max=32,dive,required,max=32"`
	Headless  *bool    `json:"headless,omitempty"`
}

// Prober is implemented by web clients that know how to check reachability
// themselves (webclient.NetHTTPClient does).
type Prober interface {
	Probe(ctx context.Context, url string) error
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// checkStruct turns the first validator failure into a ValidationError.
func checkStruct(v *validator.Validate, req RunRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &ValidationError{Field: field, Reason: reason}
	}
	return &ValidationError{Field: "request", Reason: err.Error()}
}

// NormalizeTarget turns user input into an absolute http(s) URL. A bare host
// gets an http:// prefix and IDN hosts are converted to punycode.
func NormalizeTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Field: "url", Reason: "required"}
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Field: "url", Reason: "malformed url"}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &ValidationError{Field: "url", Reason: "missing host"}
	}

	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
		if err != nil {
			return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("invalid host %q", host)}
		}
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(ascii, port)
		} else {
			u.Host = ascii
		}
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// preflight fetches the target once. Anything below 500 counts as reachable.
func preflight(ctx context.Context, client webclient.WebClient, target string) error {
	if p, ok := client.(Prober); ok {
		return p.Probe(ctx, target)
	}
	resp, err := client.Get(ctx, target)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
