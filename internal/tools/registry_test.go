package tools_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

type stubRunner struct{ name string }

func (s *stubRunner) Run(context.Context, *url.URL, tools.Env) (tools.Outcome, error) {
	return tools.Outcome{ToolCode: s.name, Status: tools.StatusSucceeded}, nil
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(tools.DefaultCatalog(), map[string]tools.Runner{
		"LH":  &stubRunner{name: "LH"},
		"psi": &stubRunner{name: "PSI"},
	})
	require.NoError(t, err)
	return reg
}

// ─── Catalog ───────────────────────────────────────────────────────────

func TestDefaultCatalog_HasOriginalTools(t *testing.T) {
	t.Parallel()
	c := tools.DefaultCatalog()
	for _, code := range []string{"LH", "WPT", "PSI", "TMS", "SS", "PPTR", "CRUX"} {
		info, ok := c.Get(code)
		require.True(t, ok, "missing %s", code)
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.URL)
	}
	assert.Equal(t, "Lighthouse", c.Name("lh"))
	assert.Equal(t, "NOPE", c.Name("NOPE"))
	assert.Len(t, c.All(), 7)
}

func TestParseCatalog_Rejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"empty":     "tools: []",
		"no code":   "tools:\n  - name: X\n",
		"no name":   "tools:\n  - code: X\n",
		"duplicate": "tools:\n  - {code: X, name: A}\n  - {code: x, name: B}\n",
		"bad yaml":  "tools: [",
	}
	for name, doc := range cases {
		_, err := tools.ParseCatalog([]byte(doc))
		assert.Error(t, err, name)
	}
}

// ─── Registry ──────────────────────────────────────────────────────────

func TestRegistry_ResolveIsStable(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)

	r1, ok1 := reg.Resolve("LH")
	r2, ok2 := reg.Resolve(" lh ")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Same(t, r1, r2)

	_, ok := reg.Resolve("X")
	assert.False(t, ok)

	assert.Equal(t, []string{"LH", "PSI"}, reg.KnownCodes())
	assert.Equal(t, reg.KnownCodes(), reg.KnownCodes())
}

func TestRegistry_KnownCodesIsACopy(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	codes := reg.KnownCodes()
	codes[0] = "MUTATED"
	assert.Equal(t, "LH", reg.KnownCodes()[0])
}

func TestRegistry_FilterDropsUnknownAndDuplicates(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)
	got := reg.Filter([]string{"psi", "X", "LH", "PSI", "", "SS"})
	assert.Equal(t, []string{"PSI", "LH"}, got)
	assert.Empty(t, reg.Filter([]string{"X"}))
}

func TestNewRegistry_Rejects(t *testing.T) {
	t.Parallel()
	_, err := tools.NewRegistry(nil, nil)
	assert.Error(t, err)

	_, err = tools.NewRegistry(tools.DefaultCatalog(), map[string]tools.Runner{"ZZ": &stubRunner{}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "catalog"))

	_, err = tools.NewRegistry(tools.DefaultCatalog(), map[string]tools.Runner{"LH": nil})
	assert.Error(t, err)

	_, err = tools.NewRegistry(tools.DefaultCatalog(), map[string]tools.Runner{"LH": &stubRunner{}, "lh": &stubRunner{}})
	assert.Error(t, err)
}

// ─── Settle ────────────────────────────────────────────────────────────

type closedBrowser struct{}

func (closedBrowser) NewTab(context.Context) (context.Context, context.CancelFunc, error) {
	return nil, nil, webclient.ErrBrowserClosed
}
func (closedBrowser) Err() error   { return webclient.ErrBrowserClosed }
func (closedBrowser) Close() error { return nil }

func TestSettle_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	out, err := tools.Settle("PSI", nil, errors.New("waiting for .results: context deadline exceeded"))
	require.NoError(t, err)
	assert.Equal(t, tools.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "deadline")
	assert.False(t, out.Succeeded())

	_, err = tools.Settle("PSI", closedBrowser{}, errors.New("anything"))
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrFatal)
	var fe *tools.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "PSI", fe.Code)
}
