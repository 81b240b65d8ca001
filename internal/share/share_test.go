package share_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/share"
	"github.com/raysh454/perfsandbox/internal/testutil"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

func newStore(t *testing.T) *share.Store {
	t.Helper()
	db, err := share.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := share.NewStore(db)
	require.NoError(t, err)
	return st
}

type stubShortener struct {
	short string
	err   error
	calls int
}

func (s *stubShortener) Shorten(_ context.Context, long string) (string, error) {
	s.calls++
	return s.short, s.err
}

// ─── Store ─────────────────────────────────────────────────────────────

func TestStore_CreateGetDelete(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, share.Share{Alias: "abc", SessionID: "s1", TargetURL: "http://h/a.pdf"}))
	require.NoError(t, st.Create(ctx, share.Share{Alias: "def", SessionID: "s1", TargetURL: "http://h/b.pdf"}))

	got, err := st.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "http://h/a.pdf", got.TargetURL)
	assert.False(t, got.CreatedAt.IsZero())

	err = st.Create(ctx, share.Share{Alias: "abc", SessionID: "s2", TargetURL: "x"})
	assert.ErrorIs(t, err, share.ErrDuplicate)

	list, err := st.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := st.DeleteBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = st.Get(ctx, "abc")
	assert.ErrorIs(t, err, share.ErrNotFound)
	assert.ErrorIs(t, st.SetShortURL(ctx, "abc", "x"), share.ErrNotFound)
}

// ─── Service ───────────────────────────────────────────────────────────

func TestService_PublishWithoutShortener(t *testing.T) {
	t.Parallel()
	svc, err := share.NewService(newStore(t), nil, "http://host:8080/", &testutil.DummyLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	link, err := svc.Publish(ctx, "s1", "http://host:8080/artifacts/s1/report.pdf")
	require.NoError(t, err)
	assert.Len(t, link.Alias, 10)
	assert.Equal(t, "http://host:8080/s/"+link.Alias, link.PublicURL)
	assert.Equal(t, link.PublicURL, link.ShortURL)

	target, err := svc.Resolve(ctx, link.Alias)
	require.NoError(t, err)
	assert.Equal(t, "http://host:8080/artifacts/s1/report.pdf", target)

	require.NoError(t, svc.Forget(ctx, "s1"))
	_, err = svc.Resolve(ctx, link.Alias)
	assert.ErrorIs(t, err, share.ErrNotFound)
}

func TestService_ShortenerFailureFallsBack(t *testing.T) {
	t.Parallel()
	logger := &testutil.DummyLogger{}
	sh := &stubShortener{err: errors.New("rate limited")}
	svc, err := share.NewService(newStore(t), sh, "http://h", logger)
	require.NoError(t, err)

	link, err := svc.Publish(context.Background(), "s1", "http://h/artifacts/s1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, link.PublicURL, link.ShortURL)
	assert.Equal(t, 1, sh.calls)
	assert.Equal(t, 1, logger.WarnCount())
}

func TestService_UsesShortLink(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	svc, err := share.NewService(st, &stubShortener{short: "https://bit.ly/x1"}, "http://h", nil)
	require.NoError(t, err)

	link, err := svc.Publish(context.Background(), "s1", "http://h/artifacts/s1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://bit.ly/x1", link.ShortURL)

	stored, err := st.Get(context.Background(), link.Alias)
	require.NoError(t, err)
	assert.Equal(t, "https://bit.ly/x1", stored.ShortURL)
}

func TestService_RejectsEmptyTarget(t *testing.T) {
	t.Parallel()
	svc, err := share.NewService(newStore(t), nil, "http://h", nil)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), "s1", "")
	assert.Error(t, err)
}

// ─── Bitly ─────────────────────────────────────────────────────────────

func TestBitly_Shorten(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v4/shorten" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"link":"https://bit.ly/` + strings.TrimPrefix(req["long_url"], "http://h/s/") + `"}`))
	}))
	defer srv.Close()

	client, err := webclient.NewNetHTTPClient(webclient.DefaultConfig(), logging.NewNop(), nil)
	require.NoError(t, err)

	b, err := share.NewBitlyShortener(srv.URL, "tok", client)
	require.NoError(t, err)
	short, err := b.Shorten(context.Background(), "http://h/s/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://bit.ly/abc", short)

	bad, err := share.NewBitlyShortener(srv.URL, "wrong", client)
	require.NoError(t, err)
	_, err = bad.Shorten(context.Background(), "http://h/s/abc")
	assert.ErrorContains(t, err, "403")
}

func TestNewBitlyShortener_RequiresToken(t *testing.T) {
	t.Parallel()
	_, err := share.NewBitlyShortener("", "", &testutil.DummyWebClient{})
	assert.Error(t, err)
}
