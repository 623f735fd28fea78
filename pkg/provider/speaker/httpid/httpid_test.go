package httpid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentify(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identify" {
			t.Errorf("path = %q, want /identify", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, pcm) {
			t.Errorf("body = %v, want %v", body, pcm)
		}
		w.Write([]byte(`{"speaker_id":"alice","confidence":0.91}`))
	}))
	defer srv.Close()

	v, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := v.Identify(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if m.SpeakerID != "alice" {
		t.Errorf("SpeakerID = %q, want alice", m.SpeakerID)
	}
	if m.Confidence != 0.91 {
		t.Errorf("Confidence = %v, want 0.91", m.Confidence)
	}
}

func TestIdentify_EmbeddingRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("embedding") != "1" {
			t.Errorf("embedding query = %q, want 1", r.URL.Query().Get("embedding"))
		}
		w.Write([]byte(`{"speaker_id":"bob","confidence":0.7,"embedding":[0.5,-0.5]}`))
	}))
	defer srv.Close()

	v, err := New(srv.URL, WithEmbeddings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := v.Identify(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(m.Embedding) != 2 || m.Embedding[0] != 0.5 {
		t.Errorf("Embedding = %v, want [0.5 -0.5]", m.Embedding)
	}
}

func TestIdentify_SidecarError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v, _ := New(srv.URL)
	if _, err := v.Identify(context.Background(), []byte{1}); err == nil {
		t.Error("want error on 503 response")
	}
}

func TestIdentify_ConfidenceOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"speaker_id":"x","confidence":1.5}`))
	}))
	defer srv.Close()

	v, _ := New(srv.URL)
	if _, err := v.Identify(context.Background(), []byte{1}); err == nil {
		t.Error("want error for out-of-range confidence")
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("want error for empty baseURL")
	}
}
