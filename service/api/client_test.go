package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestFriends(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/friend/all/7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":[
			{"id":11,"userid":2,"frienduserid":7,"friendstatus":true,"createdat":"2025-01-01T00:00:00Z","user":{"userid":2,"username":"bob","fullname":"Bob"}}
		]}`))
	})

	fs, err := c.Friends(context.Background(), 7)
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(fs) != 1 || fs[0].ID != 11 || fs[0].PeerID() != 2 || !fs[0].Status || fs[0].User.Username != "bob" {
		t.Fatalf("friends = %+v", fs)
	}
}

func TestHistoryRequestAndEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/history" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("with_user_id") != "2" || q.Get("limit") != "50" || q.Get("offset") != "0" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":[
			{"id":2,"senderid":2,"recipientid":1,"content":"b","timestamp":"2025-01-01T00:01:00Z","status":"read"},
			{"id":1,"senderid":1,"recipientid":2,"content":"a","timestamp":"2025-01-01T00:00:00Z","status":"read"}
		]}`))
	})

	msgs, err := c.History(context.Background(), "tok", 2, 50, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// order is left to the caller
	if len(msgs) != 2 || msgs[0].ID != 2 || msgs[1].ID != 1 || msgs[0].Kind != "" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestDecodeHistoryShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":1,"senderid":1,"recipientid":2,"content":"x","timestamp":"2025-01-01T00:00:00Z"}]`, 1},
		{"wrapped items", `[{"type":"new_private_message","payload":{"id":1,"senderid":1,"recipientid":2,"content":"x","timestamp":"2025-01-01T00:00:00Z"}}]`, 1},
		{"empty envelope", `{"code":200,"message":"ok","data":null}`, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msgs, err := decodeHistory([]byte(c.body))
			if err != nil {
				t.Fatalf("decodeHistory: %v", err)
			}
			if len(msgs) != c.want {
				t.Fatalf("got %d messages", len(msgs))
			}
			if c.want > 0 && (msgs[0].ID != 1 || msgs[0].Content != "x") {
				t.Fatalf("msg = %+v", msgs[0])
			}
		})
	}
	if _, err := decodeHistory([]byte(`<html>`)); err == nil {
		t.Fatalf("non-json body accepted")
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":500,"message":"Failed to fetch chat history"}`))
	})

	_, err := c.History(context.Background(), "tok", 2, 50, 0)
	if !errors.Is(err, errs.ErrHTTPStatus) {
		t.Fatalf("err = %v, want ErrHTTPStatus", err)
	}
}

func TestMarkRead(t *testing.T) {
	hit := make(chan bool, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hit <- r.Method == http.MethodPost && r.URL.Path == "/api/chat/messages/42/read" &&
			r.Header.Get("Authorization") == "Bearer tok"
		_, _ = w.Write([]byte(`{"code":200,"message":"ok","data":null}`))
	})
	if err := c.MarkRead(context.Background(), "tok", 42); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !<-hit {
		t.Fatalf("request did not match")
	}
}
