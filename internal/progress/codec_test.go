package progress_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/progress"
)

func TestEncode_WireShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   progress.Event
		want map[string]any
	}{
		{
			name: "tool-done succeeded",
			ev:   progress.ToolDone("LH", progress.StatusSucceeded, "https://pagespeed.web.dev/?url=x", "http://h/artifacts/s/LH.png", ""),
			want: map[string]any{
				"kind": "tool-done", "toolCode": "LH", "status": "succeeded",
				"resultsUrl": "https://pagespeed.web.dev/?url=x", "screenshotUrl": "http://h/artifacts/s/LH.png",
			},
		},
		{
			name: "tool-done failed",
			ev:   progress.ToolDone("PSI", progress.StatusFailed, "", "", "timeout"),
			want: map[string]any{"kind": "tool-done", "toolCode": "PSI", "status": "failed", "detail": "timeout"},
		},
		{
			name: "run-complete",
			ev:   progress.RunComplete("http://h/v", "http://h/p", "", "http://s/x"),
			want: map[string]any{"kind": "run-complete", "viewUrl": "http://h/v", "pdfUrl": "http://h/p", "shortUrl": "http://s/x"},
		},
		{
			name: "run-error",
			ev:   progress.RunError("browser crashed"),
			want: map[string]any{"kind": "run-error", "detail": "browser crashed"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := progress.Encode(tc.ev)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tc.want, got)

			back, err := progress.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.ev, back)
		})
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	t.Parallel()

	bad := map[string]string{
		"not json":             `{kind`,
		"unknown kind":         `{"kind":"tool-started","toolCode":"LH"}`,
		"missing kind":         `{"toolCode":"LH","status":"succeeded"}`,
		"tool-done no code":    `{"kind":"tool-done","status":"succeeded"}`,
		"tool-done bad status": `{"kind":"tool-done","toolCode":"LH","status":"maybe"}`,
		"failed no detail":     `{"kind":"tool-done","toolCode":"LH","status":"failed"}`,
		"complete no view":     `{"kind":"run-complete","pdfUrl":"x"}`,
		"error no detail":      `{"kind":"run-error"}`,
		"unknown field":        `{"kind":"run-error","detail":"x","extra":1}`,
		"trailing data":        `{"kind":"run-error","detail":"x"} {}`,
		"array":                `[]`,
	}
	for name, raw := range bad {
		_, err := progress.Decode([]byte(raw))
		assert.ErrorIs(t, err, progress.ErrMalformed, name)
	}
}

func TestEncode_RejectsInvalid(t *testing.T) {
	t.Parallel()
	_, err := progress.Encode(progress.Event{Kind: progress.KindRunError})
	assert.ErrorIs(t, err, progress.ErrMalformed)
}
