package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bzforge/bzfs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listServer struct {
	mu    sync.Mutex
	forms []map[string]string
	reply string
}

func (l *listServer) handler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		f := map[string]string{}
		for k := range r.PostForm {
			f[k] = r.PostForm.Get(k)
		}
		l.mu.Lock()
		l.forms = append(l.forms, f)
		l.mu.Unlock()
	}
	_, _ = w.Write([]byte(l.reply))
}

func (l *listServer) received() []map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]string(nil), l.forms...)
}

func newTestClient(t *testing.T, ls *listServer) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(ls.handler))
	t.Cleanup(srv.Close)
	return New(config.ListServerConfig{
		URL:           srv.URL + "/",
		PublicAddress: "bz.example.com:5154",
		Description:   "test server",
	}, nil)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New(config.ListServerConfig{URL: "http://localhost:5000/db/"}, nil)
	assert.Equal(t, "http://localhost:5000/db", c.baseURL)
	require.NotNil(t, c.httpClient)
}

func TestRegister(t *testing.T) {
	ls := &listServer{reply: "MSG: ADD bz.example.com:5154\n"}
	c := newTestClient(t, ls)

	require.NoError(t, c.Register(context.Background(), Info{Players: 3, MaxPlayers: 16}))

	forms := ls.received()
	require.Len(t, forms, 1)
	assert.Equal(t, "ADD", forms[0]["action"])
	assert.Equal(t, "bz.example.com:5154", forms[0]["nameport"])
	assert.Equal(t, "BZFS0221", forms[0]["version"])
	assert.Equal(t, "test server", forms[0]["title"])
	assert.Equal(t, "3", forms[0]["players"])
	assert.Equal(t, "16", forms[0]["maxplayers"])
}

func TestRemove(t *testing.T) {
	ls := &listServer{}
	c := newTestClient(t, ls)

	require.NoError(t, c.Remove(context.Background()))
	forms := ls.received()
	require.Len(t, forms, 1)
	assert.Equal(t, "REMOVE", forms[0]["action"])
	assert.Equal(t, "bz.example.com:5154", forms[0]["nameport"])
}

func TestRegister_ErrorLine(t *testing.T) {
	ls := &listServer{reply: "MSG: checking\nERROR: unable to reach your server\n"}
	c := newTestClient(t, ls)

	err := c.Register(context.Background(), Info{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "unable to reach your server")
}

func TestRegister_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.ListServerConfig{URL: srv.URL}, nil)
	err := c.Register(context.Background(), Info{})
	assert.ErrorContains(t, err, "status 500")
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "LIST", r.URL.Query().Get("action"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(config.ListServerConfig{URL: srv.URL}, nil)
	assert.NoError(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_Unreachable(t *testing.T) {
	c := New(config.ListServerConfig{URL: "http://127.0.0.1:1"}, nil)
	assert.Error(t, c.Healthcheck(context.Background()))
}

func TestTask_RegistersInBackground(t *testing.T) {
	ls := &listServer{reply: "MSG: ok\n"}
	c := newTestClient(t, ls)

	task := c.Task(time.Minute, func() Info { return Info{Players: 1, MaxPlayers: 8} })
	now := time.Now()
	done, err := task.Run(now)
	require.NoError(t, err)
	assert.False(t, done)

	require.Eventually(t, func() bool { return len(ls.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1", ls.received()[0]["players"])

	// Within the interval nothing is sent.
	require.Eventually(t, func() bool { return !c.inFlight.Load() }, 2*time.Second, 10*time.Millisecond)
	_, _ = task.Run(now.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ls.received(), 1)
}
