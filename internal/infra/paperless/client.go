package paperless

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/document"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/retry"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize は一覧取得時のページサイズ
	DefaultPageSize = 50
)

// Client はPaperless-ngx REST APIのクライアント実装
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient はベースURLとAPIトークンを指定してクライアントを作成します
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// documentResponse はPaperless-ngxの文書レスポンス
type documentResponse struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Created  string   `json:"created"`
	Modified string   `json:"modified"`
	Added    string   `json:"added"`
	TagNames []string `json:"tag_names"`

	CorrespondentName string `json:"correspondent_name"`
}

// listResponse はページング付き一覧レスポンス
type listResponse struct {
	Count   int                `json:"count"`
	Next    *string            `json:"next"`
	Results []documentResponse `json:"results"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	return retry.Do(ctx, "paperless.get", retry.Remote(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", document.ErrSourceUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return retry.Permanent(document.ErrDocumentNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.NewStatusError(resp.StatusCode, string(body))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

// Get はIDで1文書を取得します
func (c *Client) Get(ctx context.Context, id int) (document.Document, error) {
	var resp documentResponse
	if err := c.get(ctx, fmt.Sprintf("/api/documents/%d/", id), nil, &resp); err != nil {
		return document.Document{}, fmt.Errorf("failed to fetch document %d: %w", id, err)
	}
	return toDocument(resp), nil
}

// ListAll は全文書をページングしながら取得します
func (c *Client) ListAll(ctx context.Context) ([]document.Document, error) {
	return c.list(ctx, time.Time{})
}

// ListModifiedSince は指定日時以降に更新された文書を取得します
func (c *Client) ListModifiedSince(ctx context.Context, since time.Time) ([]document.Document, error) {
	return c.list(ctx, since)
}

func (c *Client) list(ctx context.Context, since time.Time) ([]document.Document, error) {
	var docs []document.Document

	page := 1
	for {
		params := url.Values{}
		params.Set("ordering", "-modified")
		params.Set("page", strconv.Itoa(page))
		params.Set("page_size", strconv.Itoa(DefaultPageSize))
		if !since.IsZero() {
			params.Set("modified__gt", since.Format(time.RFC3339))
		}

		var resp listResponse
		if err := c.get(ctx, "/api/documents/", params, &resp); err != nil {
			return nil, fmt.Errorf("failed to list documents (page %d): %w", page, err)
		}

		for _, r := range resp.Results {
			docs = append(docs, toDocument(r))
		}

		if resp.Next == nil {
			break
		}
		page++
	}

	return docs, nil
}

// Ping はAPIへの接続確認を行います
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("page_size", "1")

	var resp listResponse
	if err := c.get(ctx, "/api/documents/", params, &resp); err != nil {
		return fmt.Errorf("paperless ping failed: %w", err)
	}
	return nil
}

func toDocument(r documentResponse) document.Document {
	return document.Document{
		ID:            r.ID,
		Title:         r.Title,
		Content:       r.Content,
		CreatedAt:     parseTime(r.Created),
		ModifiedAt:    parseTime(r.Modified),
		AddedAt:       parseTime(r.Added),
		Correspondent: r.CorrespondentName,
		Tags:          r.TagNames,
	}
}

// parseTime はPaperless-ngxの日時表現を解釈します
// 日付のみの形式も許容します
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// インターフェース実装の確認
var _ document.Source = (*Client)(nil)
