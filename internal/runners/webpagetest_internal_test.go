package runners

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/testutil"
)

type wptServer struct {
	started   atomic.Int32
	polls     atomic.Int32
	doneAfter int32
	failWith  int

	mu        sync.Mutex
	lastQuery url.Values
}

func (s *wptServer) query() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *wptServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runtest.php", func(w http.ResponseWriter, r *http.Request) {
		s.started.Add(1)
		s.mu.Lock()
		s.lastQuery = r.URL.Query()
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"statusCode":200,"statusText":"Ok","data":{"testId":"260509_AB_1","userUrl":"https://wpt.example/result/260509_AB_1/"}}`))
	})
	mux.HandleFunc("/testStatus.php", func(w http.ResponseWriter, r *http.Request) {
		n := s.polls.Add(1)
		switch {
		case s.failWith != 0:
			_, _ = w.Write([]byte(`{"statusCode":` + strconv.Itoa(s.failWith) + `,"statusText":"Test not found"}`))
		case n >= s.doneAfter && s.doneAfter > 0:
			_, _ = w.Write([]byte(`{"statusCode":200,"statusText":"Test Complete"}`))
		default:
			_, _ = w.Write([]byte(`{"statusCode":101,"statusText":"Waiting behind 3 other tests..."}`))
		}
	})
	return mux
}

func wptConfig(base string) Config {
	cfg := DefaultConfig()
	cfg.WPTBaseURL = base
	cfg.WPTKey = "k-123"
	cfg.WPTPollInterval = 5 * time.Millisecond
	cfg.WPTMaxWait = 2 * time.Second
	return cfg
}

func TestWebPageTest_StartSendsParameters(t *testing.T) {
	t.Parallel()
	fake := &wptServer{doneAfter: 1}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	target, _ := url.Parse("https://example.com/")
	test, err := NewWebPageTest(wptConfig(srv.URL)).start(context.Background(), target, newHTTPClient(t))
	require.NoError(t, err)

	assert.Equal(t, "260509_AB_1", test.ID)
	assert.Equal(t, "https://wpt.example/result/260509_AB_1/", test.UserURL)
	q := fake.query()
	assert.Equal(t, "k-123", q.Get("k"))
	assert.Equal(t, "json", q.Get("f"))
	assert.Equal(t, "Dulles_MotoG4:MotoG4 - Chrome.3GFast", q.Get("location"))
	assert.Equal(t, "1", q.Get("fvonly"))
	assert.Equal(t, "0", q.Get("priority"))
	assert.Equal(t, "1", q.Get("runs"))
	assert.Equal(t, "https://example.com/", q.Get("url"))
}

func TestWebPageTest_AwaitPollsUntilComplete(t *testing.T) {
	t.Parallel()
	fake := &wptServer{doneAfter: 3}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	w := NewWebPageTest(wptConfig(srv.URL))
	err := w.await(context.Background(), &wptTest{ID: "260509_AB_1"}, newHTTPClient(t), &testutil.DummyLogger{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), fake.polls.Load())
}

func TestWebPageTest_AwaitReportsFailure(t *testing.T) {
	t.Parallel()
	fake := &wptServer{failWith: 400}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	err := NewWebPageTest(wptConfig(srv.URL)).await(context.Background(), &wptTest{ID: "x"}, newHTTPClient(t), &testutil.DummyLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Test not found")
}

func TestWebPageTest_AwaitGivesUpAfterMaxWait(t *testing.T) {
	t.Parallel()
	fake := &wptServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := wptConfig(srv.URL)
	cfg.WPTMaxWait = 60 * time.Millisecond

	start := time.Now()
	err := NewWebPageTest(cfg).await(context.Background(), &wptTest{ID: "x"}, newHTTPClient(t), &testutil.DummyLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for test x")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDetailsURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://wpt.example/result/A/1/details/", detailsURL("https://wpt.example/result/A/"))
	assert.Equal(t, "https://wpt.example/result/A/1/details/", detailsURL("https://wpt.example/result/A"))
}
