package paperless

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/document"
)

func TestClient_Get_文書を取得できる(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents/42/", r.URL.Path)
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"id":       42,
			"title":    "Blood Test Results",
			"content":  "Hemoglobin 14.2 g/dL",
			"created":  "2024-03-01T10:00:00Z",
			"modified": "2024-03-02T10:00:00Z",
			"added":    "2024-03-01T12:00:00Z",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	doc, err := client.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, doc.ID)
	assert.Equal(t, "Blood Test Results", doc.Title)
	assert.Equal(t, "Hemoglobin 14.2 g/dL", doc.Content)
	assert.Equal(t, 2024, doc.CreatedAt.Year())
}

func TestClient_Get_404でErrDocumentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	_, err := client.Get(context.Background(), 999)
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)
}

func TestClient_ListAll_ページングを辿る(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")

		resp := map[string]any{"count": 3}
		switch page {
		case "1":
			next := server.URL + "/api/documents/?page=2"
			resp["next"] = next
			resp["results"] = []map[string]any{
				{"id": 1, "title": "a", "content": "x"},
				{"id": 2, "title": "b", "content": "y"},
			}
		default:
			resp["next"] = nil
			resp["results"] = []map[string]any{
				{"id": 3, "title": "c", "content": "z"},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	docs, err := client.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, 1, docs[0].ID)
	assert.Equal(t, 3, docs[2].ID)
}

func TestClient_ListModifiedSince_フィルタを付与する(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("modified__gt"))
		json.NewEncoder(w).Encode(map[string]any{
			"count":   0,
			"next":    nil,
			"results": []map[string]any{},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	docs, err := client.ListModifiedSince(context.Background(), mustTime(t, "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}
