package openwake

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("want error for empty baseURL")
	}
}

func TestScore_ParsesSidecarResponse(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			t.Errorf("path = %q, want /score", r.URL.Path)
		}
		if r.URL.Query().Get("model") != "hey_earshot" {
			t.Errorf("model = %q, want hey_earshot", r.URL.Query().Get("model"))
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"score": 0.87, "model": "hey_earshot"}`))
	}))
	defer srv.Close()

	d, err := New(srv.URL, WithModel("hey_earshot"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := []byte{1, 2, 3, 4}
	score, err := d.Score(frame)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.87 {
		t.Errorf("score = %f, want 0.87", score)
	}
	if string(gotBody) != string(frame) {
		t.Errorf("sidecar received %v, want %v", gotBody, frame)
	}
}

func TestScore_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, _ := New(srv.URL)
	if _, err := d.Score([]byte{0}); err == nil {
		t.Fatal("want error for non-200 response")
	}
}

func TestScore_OutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 1.5}`))
	}))
	defer srv.Close()

	d, _ := New(srv.URL)
	if _, err := d.Score([]byte{0}); err == nil {
		t.Fatal("want error for out-of-range score")
	}
}

func TestScore_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately closed: connection refused

	d, _ := New(srv.URL)
	if _, err := d.Score([]byte{0}); err == nil {
		t.Fatal("want error when sidecar is unreachable")
	}
}
