package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient("test-token", 42, zap.NewNop())
	client.base = srv.URL
	return client
}

func TestPollFiltersUnauthorizedChats(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"date":1748779200,"text":"/pause","chat":{"id":42}}},
			{"update_id":11,"message":{"date":1748779201,"text":"/close yes","chat":{"id":999}}},
			{"update_id":12,"message":{"date":1748779202,"text":"/status","chat":{"id":42}}}
		]}`)
	})

	commands, next, err := client.Poll(context.Background(), 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The unauthorized update is dropped but still advances the offset.
	if next != 12 {
		t.Fatalf("next offset = %d, want 12", next)
	}
	if len(commands) != 2 {
		t.Fatalf("expected 2 authorized commands, got %d", len(commands))
	}
	if commands[0].Text != "/pause" || commands[1].Text != "/status" {
		t.Fatalf("unexpected commands: %+v", commands)
	}
}

func TestPollRequestsAfterOffset(t *testing.T) {
	var gotOffset string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotOffset = r.URL.Query().Get("offset")
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	})

	_, next, err := client.Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOffset != "101" {
		t.Fatalf("requested offset %s, want 101", gotOffset)
	}
	if next != 100 {
		t.Fatalf("next offset = %d, want unchanged 100", next)
	}
}

func TestPollSkipsNonTextUpdates(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":20},
			{"update_id":21,"message":{"date":1748779200,"text":"","chat":{"id":42}}}
		]}`)
	})

	commands, next, err := client.Poll(context.Background(), 19)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commands) != 0 {
		t.Fatalf("expected no commands, got %+v", commands)
	}
	if next != 21 {
		t.Fatalf("next offset = %d, want 21", next)
	}
}

func TestPollSurfacesAPIFailure(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, next, err := client.Poll(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
	if next != 5 {
		t.Fatalf("offset must not advance on failure, got %d", next)
	}
}

func TestNotifySwallowsDeliveryFailure(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	// Must not panic or propagate anything.
	client.Notify("hello")
}
