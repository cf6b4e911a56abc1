package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/localstore"
	"github.com/mickgian/pratiko-chat/internal/stub"
	"github.com/mickgian/pratiko-chat/internal/telemetry"
)

// newBackend spins up the stub behind a counter for session creations.
func newBackend(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()

	store, err := stub.OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	usage := stub.NewUsageStore(rdb, 2.0, 10.0, "professionale", "Piano Professionale")
	router := stub.NewRouter(stub.NewServer(store, usage, "test-secret", telemetry.NopLogger()))

	var creates int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/sessions" {
			atomic.AddInt64(&creates, 1)
			// Slow creation down so overlapping callers actually overlap.
			time.Sleep(200 * time.Millisecond)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &creates
}

func newManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	return NewManager(api.NewClient(baseURL, 5*time.Second), store, telemetry.NopLogger())
}

func TestCreateNewSession_ConcurrentCallsShareOneCreate(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)
	ctx := context.Background()

	const callers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sess, err := m.CreateNewSession(ctx)
			if err != nil {
				t.Errorf("CreateNewSession: %v", err)
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	close(start)
	wg.Wait()

	if n := atomic.LoadInt64(creates); n != 1 {
		t.Fatalf("expected exactly 1 create request, got %d", n)
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("all callers must share the same session, got %v", ids)
		}
	}
}

func TestEnsureSession_ExistingSessionSkipsNetwork(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)
	ctx := context.Background()

	first, err := m.EnsureSession(ctx)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	second, err := m.EnsureSession(ctx)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ensure must be idempotent: %s vs %s", first.ID, second.ID)
	}
	if n := atomic.LoadInt64(creates); n != 1 {
		t.Fatalf("expected exactly 1 create request, got %d", n)
	}
}

func TestLoadSessions_NeverCreates(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)

	sessions, err := m.LoadSessions(context.Background())
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty list, got %+v", sessions)
	}
	if n := atomic.LoadInt64(creates); n != 0 {
		t.Fatalf("listing must never create sessions, got %d creates", n)
	}
}

func TestDeleteSession_ActiveGetsExactlyOneReplacement(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)
	ctx := context.Background()

	sess, err := m.CreateNewSession(ctx)
	if err != nil {
		t.Fatalf("CreateNewSession: %v", err)
	}

	repl, wasActive, err := m.DeleteSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if !wasActive {
		t.Fatal("deleted session was the active one")
	}
	if repl == nil || repl.ID == sess.ID {
		t.Fatalf("expected a fresh replacement, got %+v", repl)
	}
	if n := atomic.LoadInt64(creates); n != 2 {
		t.Fatalf("expected original + one replacement create, got %d", n)
	}
	if cur := m.Current(); cur == nil || cur.ID != repl.ID {
		t.Fatalf("replacement must become current, got %+v", cur)
	}
}

func TestDeleteSession_InactiveKeepsCurrent(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)
	ctx := context.Background()

	// Two sessions; the second one created becomes current.
	first, err := m.CreateNewSession(ctx)
	if err != nil {
		t.Fatalf("CreateNewSession: %v", err)
	}
	second, err := m.CreateNewSession(ctx)
	if err != nil {
		t.Fatalf("CreateNewSession: %v", err)
	}

	repl, wasActive, err := m.DeleteSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if wasActive || repl != nil {
		t.Fatalf("deleting an inactive session must not replace anything, got %+v, %v", repl, wasActive)
	}
	if cur := m.Current(); cur == nil || cur.ID != second.ID {
		t.Fatalf("current session must survive, got %+v", cur)
	}
	if n := atomic.LoadInt64(creates); n != 2 {
		t.Fatalf("no extra create expected, got %d", n)
	}
}

func TestResume_NothingPersistedStaysLazy(t *testing.T) {
	srv, creates := newBackend(t)
	m := newManager(t, srv.URL)

	sess, msgs, err := m.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sess != nil || msgs != nil {
		t.Fatalf("nothing persisted: resume must be a no-op, got %+v", sess)
	}
	if n := atomic.LoadInt64(creates); n != 0 {
		t.Fatalf("resume must never create sessions, got %d", n)
	}
}
