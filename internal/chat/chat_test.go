package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// stubBackend mints a thread id on POST /chat and answers every turn with the
// number of turns the thread has seen.
type stubBackend struct {
	mu      sync.Mutex
	threads map[string]int
	next    int
}

func newStubBackend() *stubBackend {
	return &stubBackend{threads: map[string]int{}}
}

func (b *stubBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := decodeMessage(w, r); !ok {
			return
		}
		b.mu.Lock()
		b.next++
		id := fmt.Sprintf("thread-%d", b.next)
		b.threads[id] = 1
		b.mu.Unlock()
		json.NewEncoder(w).Encode(Reply{ThreadID: id, Response: "turns=1"})
	})
	r.Post("/chat/{threadID}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := decodeMessage(w, r); !ok {
			return
		}
		id := chi.URLParam(r, "threadID")
		b.mu.Lock()
		n, ok := b.threads[id]
		if ok {
			n++
			b.threads[id] = n
		}
		b.mu.Unlock()
		if !ok {
			http.Error(w, "unknown thread", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Reply{Response: fmt.Sprintf("turns=%d", n)})
	})
	return r
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return "", false
	}
	return req.Message, true
}

func TestSession_ConversationContinuity(t *testing.T) {
	srv := httptest.NewServer(newStubBackend().router())
	defer srv.Close()

	s := NewSession(NewClient(srv.URL, 0))
	ctx := context.Background()

	first, err := s.Submit(ctx, "hello")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if first.Text != "turns=1" {
		t.Errorf("first reply = %q", first.Text)
	}
	thread := s.ThreadID()
	if thread == "" {
		t.Fatal("no thread id after first turn")
	}

	second, err := s.Submit(ctx, "and then?")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Text != "turns=2" {
		t.Errorf("second reply = %q, want turns=2", second.Text)
	}
	if s.ThreadID() != thread {
		t.Errorf("thread changed from %q to %q", thread, s.ThreadID())
	}

	// A fresh session starts its own conversation.
	other := NewSession(NewClient(srv.URL, 0))
	if _, err := other.Submit(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	if other.ThreadID() == thread {
		t.Error("new session reused an existing thread")
	}
}

func TestSession_FailureKeepsTranscript(t *testing.T) {
	var fail atomic.Bool
	backend := newStubBackend().router()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		backend.ServeHTTP(w, r)
	}))
	defer srv.Close()

	s := NewSession(NewClient(srv.URL, 0))
	ctx := context.Background()
	if _, err := s.Submit(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	thread := s.ThreadID()

	fail.Store(true)
	turn, err := s.Submit(ctx, "two")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
	if turn.Role != RoleError || turn.Text != FallbackMessage {
		t.Errorf("turn = %+v", turn)
	}

	fail.Store(false)
	turn, err = s.Submit(ctx, "three")
	if err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if turn.Text != "turns=2" {
		t.Errorf("retry reply = %q, want turns=2", turn.Text)
	}
	if s.ThreadID() != thread {
		t.Error("thread id lost after a failed turn")
	}

	got := s.Transcript()
	want := []Turn{
		{RoleUser, "one"}, {RoleAssistant, "turns=1"},
		{RoleUser, "two"}, {RoleError, FallbackMessage},
		{RoleUser, "three"}, {RoleAssistant, "turns=2"},
	}
	if len(got) != len(want) {
		t.Fatalf("transcript = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transcript[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSession_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := NewSession(NewClient(url, 0))
	turn, err := s.Submit(context.Background(), "anyone?")
	if err == nil {
		t.Fatal("expected error")
	}
	if turn.Text != FallbackMessage {
		t.Errorf("turn = %+v", turn)
	}
	if len(s.Transcript()) != 2 {
		t.Errorf("transcript = %+v", s.Transcript())
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Reply{ThreadID: "t1", Response: "ok"})
	}))
	defer srv.Close()

	reply, err := NewClient(srv.URL, 0).Send(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Response != "ok" || calls.Load() != 2 {
		t.Errorf("reply = %+v, calls = %d", reply, calls.Load())
	}
}

func TestClient_ThreadPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(Reply{Response: "ok"})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL+"/", 0).Send(context.Background(), "a/b", "hi"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/chat/a%2Fb" {
		t.Errorf("path = %q", gotPath)
	}
}

// slowSender mints a thread for every turn sent without one, after a delay.
type slowSender struct {
	mu     sync.Mutex
	minted int
	sent   []string
}

func (s *slowSender) Send(_ context.Context, threadID, _ string) (Reply, error) {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, threadID)
	if threadID == "" {
		s.minted++
		threadID = fmt.Sprintf("t%d", s.minted)
	}
	return Reply{ThreadID: threadID, Response: "ok"}, nil
}

func TestSession_ConcurrentFirstTurnsShareThread(t *testing.T) {
	sender := &slowSender{}
	session := NewSession(sender)

	var wg sync.WaitGroup
	for _, msg := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := session.Submit(context.Background(), msg); err != nil {
				t.Errorf("Submit(%q): %v", msg, err)
			}
		}()
	}
	wg.Wait()

	if sender.minted != 1 {
		t.Errorf("threads minted = %d, want 1", sender.minted)
	}
	if len(sender.sent) != 2 || sender.sent[0] != "" || sender.sent[1] != "t1" {
		t.Errorf("sent thread ids = %q, want [\"\" \"t1\"]", sender.sent)
	}
	if got := session.ThreadID(); got != "t1" {
		t.Errorf("ThreadID() = %q, want t1", got)
	}
	if n := len(session.Transcript()); n != 4 {
		t.Errorf("transcript has %d turns, want 4", n)
	}
}
