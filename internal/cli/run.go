package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/raysh454/perfsandbox/internal/progress"
)

type runOptions struct {
	server   string
	target   string
	tools    []string
	headless string
	asJSON   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a run on a server and follow its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.target) == "" || len(opts.tools) == 0 {
				_ = cmd.Help()
				return errUsage
			}
			return follow(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "Base URL of a perfsandbox server")
	cmd.Flags().StringVar(&opts.target, "url", "", "URL to audit")
	cmd.Flags().StringSliceVar(&opts.tools, "tools", nil, "Tool codes, comma separated (e.g. LH,PSI)")
	cmd.Flags().StringVar(&opts.headless, "headless", "", "Override headless mode (true or false)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print raw events as JSON lines")
	return cmd
}

// runSocketURL turns the server base URL and options into the /ws/run URL.
func runSocketURL(opts runOptions) (string, error) {
	base, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url %q must be http(s) or ws(s)", opts.server)
	}
	base.Path += "/ws/run"

	q := url.Values{}
	q.Set("url", opts.target)
	q.Set("tools", strings.Join(opts.tools, ","))
	if opts.headless != "" {
		v, err := strconv.ParseBool(opts.headless)
		if err != nil {
			return "", fmt.Errorf("invalid --headless %q", opts.headless)
		}
		q.Set("headless", strconv.FormatBool(v))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func follow(cmd *cobra.Command, opts runOptions) error {
	u, err := runSocketURL(opts)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("server rejected run: %s", rejection(resp))
		}
		return fmt.Errorf("connect %s: %w", opts.server, err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	stream := progress.NewStream(conn)
	for {
		e, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printEvent(out, e, opts.asJSON); err != nil {
			return err
		}
		if e.Kind == progress.KindRunError {
			return errRunFailed
		}
	}
}

// rejection extracts the API error message from a failed handshake.
func rejection(resp *http.Response) string {
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Sprintf("%s (%d)", body.Error, resp.StatusCode)
	}
	return resp.Status
}

func printEvent(w io.Writer, e progress.Event, asJSON bool) error {
	if asJSON {
		data, err := progress.Encode(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var err error
	switch e.Kind {
	case progress.KindToolDone:
		line := fmt.Sprintf("%-5s %s", e.ToolCode, e.Status)
		if e.ResultsURL != "" {
			line += "  " + e.ResultsURL
		}
		if e.Detail != "" {
			line += "  (" + e.Detail + ")"
		}
		_, err = fmt.Fprintln(w, line)
	case progress.KindRunComplete:
		_, err = fmt.Fprintf(w, "report: %s\n", e.ViewURL)
		for _, l := range []struct{ label, url string }{
			{"pdf", e.PDFURL}, {"public", e.PublicURL}, {"short", e.ShortURL},
		} {
			if err == nil && l.url != "" {
				_, err = fmt.Fprintf(w, "%s: %s\n", l.label, l.url)
			}
		}
	case progress.KindRunError:
		_, err = fmt.Fprintf(w, "run failed: %s\n", e.Detail)
	}
	return err
}
