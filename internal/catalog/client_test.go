package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/franz/playlist-sync/internal/util"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:   srv.URL,
		Token:     "test-token",
		RateLimit: 1000,
		PageSize:  2,
	})
}

func TestListCollectionsPaging(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.RawQuery {
		case "limit=2&offset=0":
			fmt.Fprint(w, `{"items":[{"id":"c1","name":"Summer Mix","item_count":2},{"id":"c2","name":"Chill"}],"total":3}`)
		case "limit=2&offset=2":
			fmt.Fprint(w, `{"items":[{"id":"c3","name":"Workout"}],"total":3}`)
		default:
			t.Errorf("unexpected query %q", r.URL.RawQuery)
			http.NotFound(w, r)
		}
	})

	cols, err := client.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}

	if len(cols) != 3 {
		t.Fatalf("expected 3 collections across pages, got %d", len(cols))
	}
	if cols[0].ID != "c1" || cols[0].Name != "Summer Mix" || cols[0].ItemCount != 2 {
		t.Errorf("first collection decoded wrong: %+v", cols[0])
	}
	if cols[2].ID != "c3" {
		t.Errorf("expected last page collection c3, got %q", cols[2].ID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestListItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/collections/c1/items" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"items":[{"id":"t1","title":"Song 1","artist":"Artist A","duration_ms":200000,"position":0},{"id":"t2","title":"Song 2","artist":"Artist B","position":1,"unavailable":true}],"total":2}`)
	})

	items, err := client.ListItems(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Song 1" || items[0].DurationMs != 200000 {
		t.Errorf("first item decoded wrong: %+v", items[0])
	}
	if !items[1].Unavailable {
		t.Error("expected second item to be flagged unavailable")
	}
}

func TestListItemsGoneCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.ListItems(context.Background(), "vanished")
	if !errors.Is(err, ErrContentGone) {
		t.Errorf("expected ErrContentGone for 404, got %v", err)
	}
}

func TestServerErrorsAreRetryable(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.ListCollections(context.Background())
		if !errors.Is(err, util.ErrSourceUnavailable) {
			t.Errorf("status %d: expected ErrSourceUnavailable, got %v", status, err)
		}
		if !util.IsRetryableError(err) {
			t.Errorf("status %d: expected a retryable error", status)
		}
	}
}

func TestDownload(t *testing.T) {
	payload := []byte("not really audio")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/items/t1/download" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/flac")
		w.Write(payload)
	})

	var buf bytes.Buffer
	n, format, err := client.Download(context.Background(), "t1", &buf)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if n != int64(len(payload)) {
		t.Errorf("expected %d bytes, got %d", len(payload), n)
	}
	if format != "flac" {
		t.Errorf("expected delivered format flac, got %q", format)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Error("downloaded bytes do not match payload")
	}

	_, _, err = client.Download(context.Background(), "missing", &buf)
	if !errors.Is(err, ErrContentGone) {
		t.Errorf("expected ErrContentGone for missing item, got %v", err)
	}
}

func TestFormatFromResponse(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		disposition string
		want        string
	}{
		{"mpeg content type", "audio/mpeg", "", "mp3"},
		{"content type with charset", "audio/flac; charset=binary", "", "flac"},
		{"disposition fallback", "application/octet-stream", `attachment; filename="track.m4a"`, "m4a"},
		{"unknown defaults to mp3", "application/octet-stream", "", "mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			resp.Header.Set("Content-Type", tt.contentType)
			if tt.disposition != "" {
				resp.Header.Set("Content-Disposition", tt.disposition)
			}
			if got := formatFromResponse(resp); got != tt.want {
				t.Errorf("formatFromResponse() = %q, want %q", got, tt.want)
			}
		})
	}
}
