package whisperd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arven-dev/voicebridge/pkg/provider"
)

func TestNew_RequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_Success(t *testing.T) {
	var gotPath, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "fake-webm" {
				t.Errorf("file payload = %q, want fake-webm", data)
			}
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": "  What's the weather?  "}`)
	}))
	defer srv.Close()

	tr, err := New(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte("fake-webm"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "What's the weather?" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}
	if gotPath != "/inference" {
		t.Errorf("path = %q, want /inference", gotPath)
	}
	if gotLanguage != "de" {
		t.Errorf("language = %q, want de", gotLanguage)
	}
}

func TestTranscribe_EmptyAudioShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty audio")
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	text, err := tr.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribe_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   provider.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, provider.KindAuth},
		{"throttled", http.StatusTooManyRequests, provider.KindRateLimit},
		{"server error", http.StatusInternalServerError, provider.KindTransport},
		{"bad request", http.StatusBadRequest, provider.KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr, _ := New(srv.URL)
			_, err := tr.Transcribe(context.Background(), []byte("x"))
			if err == nil {
				t.Fatal("expected error")
			}
			var se *provider.ServiceError
			if !errors.As(err, &se) {
				t.Fatalf("error %v is not a ServiceError", err)
			}
			if se.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", se.Kind, tt.want)
			}
		})
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text": `)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("x"))
	if provider.KindOf(err) != provider.KindProtocol {
		t.Errorf("KindOf = %q, want protocol", provider.KindOf(err))
	}
}
