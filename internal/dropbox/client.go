package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/remote"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
	DefaultTokenURL   = "https://api.dropboxapi.com/oauth2/token"

	apiArgHeader = "Dropbox-API-Arg"
)

// Config configures a Dropbox client.
type Config struct {
	Identifier   string
	AccessToken  string
	RefreshToken string
	AppKey       string
	AppSecret    string

	APIURL     string
	ContentURL string
	TokenURL   string

	// Timeout bounds every request including reading the body, zero means none.
	Timeout time.Duration

	// Transport is the base round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client talks to the Dropbox HTTP API v2. It is safe for concurrent use.
type Client struct {
	apiURL     string
	contentURL string
	identifier string

	tokens     *TokenSource
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}

	if cfg.ContentURL == "" {
		cfg.ContentURL = DefaultContentURL
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	var oauthCfg *oauth2.Config
	if cfg.RefreshToken != "" {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.AppKey,
			ClientSecret: cfg.AppSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}

	tokens := NewTokenSource(cfg.AccessToken, cfg.RefreshToken, oauthCfg)

	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		contentURL: strings.TrimRight(cfg.ContentURL, "/"),
		identifier: cfg.Identifier,
		tokens:     tokens,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   otelhttp.NewTransport(base),
			},
		},
	}
}

type listFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type listFolderContinueArg struct {
	Cursor string `json:"cursor"`
}

type pathArg struct {
	Path string `json:"path"`
}

type metadata struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	Size           uint64    `json:"size,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
}

type listFolderResult struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

type account struct {
	AccountID string `json:"account_id"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

type apiErrorBody struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		Tag string `json:".tag"`
	} `json:"error"`
}

// ListFolder lists the direct children of path. The root folder is "/" or "".
func (c *Client) ListFolder(ctx context.Context, path string) (*remote.Page, error) {
	var res listFolderResult
	if err := c.rpc(ctx, "list_folder", "/2/files/list_folder", listFolderArg{Path: apiPath(path)}, &res); err != nil {
		return nil, err
	}

	return res.toPage(), nil
}

// ListFolderContinue fetches the next page of a listing.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*remote.Page, error) {
	var res listFolderResult
	if err := c.rpc(ctx, "list_folder_continue", "/2/files/list_folder/continue", listFolderContinueArg{Cursor: cursor}, &res); err != nil {
		return nil, err
	}

	return res.toPage(), nil
}

// Download opens the content stream of the file at path. The caller closes it.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	arg, err := json.Marshal(pathArg{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to encode download argument: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/2/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	req.Header.Set(apiArgHeader, string(arg))
	c.setUserAgent(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &remote.APIError{Operation: "download", Summary: err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, decodeError("download", resp)
	}

	return resp.Body, nil
}

// RefreshCredential refreshes the shared access token.
func (c *Client) RefreshCredential(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := c.tokens.Refresh(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to refresh access token", "err", err)

		return err
	}

	logger.DebugContext(ctx, "access token refreshed")

	return nil
}

// CurrentAccountDisplayName returns the display name of the authenticated account.
func (c *Client) CurrentAccountDisplayName(ctx context.Context) (string, error) {
	var acc account
	if err := c.rpc(ctx, "get_current_account", "/2/users/get_current_account", nil, &acc); err != nil {
		return "", err
	}

	return acc.Name.DisplayName, nil
}

func (c *Client) rpc(ctx context.Context, operation, endpoint string, arg, out any) error {
	var body io.Reader

	if arg != nil {
		payload, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("failed to encode %s argument: %w", operation, err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	if arg != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.setUserAgent(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &remote.APIError{Operation: operation, Summary: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(operation, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &remote.APIError{Operation: operation, StatusCode: resp.StatusCode, Summary: "malformed response", Err: err}
	}

	return nil
}

func (c *Client) setUserAgent(req *http.Request) {
	if c.identifier != "" {
		req.Header.Set("User-Agent", c.identifier)
	}
}

// decodeError maps a non-200 response to a typed error. Every 401 is treated
// as an expired credential since a refresh is the only way to recover from it.
func decodeError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body apiErrorBody
	summary := strings.TrimSpace(string(raw))

	if err := json.Unmarshal(raw, &body); err == nil && body.ErrorSummary != "" {
		summary = body.ErrorSummary
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &remote.ExpiredCredentialError{Operation: operation, Summary: summary}
	}

	return &remote.APIError{Operation: operation, StatusCode: resp.StatusCode, Summary: summary}
}

func (r *listFolderResult) toPage() *remote.Page {
	page := &remote.Page{
		Entries: make([]remote.Entry, 0, len(r.Entries)),
		Cursor:  r.Cursor,
		HasMore: r.HasMore,
	}

	for _, m := range r.Entries {
		switch m.Tag {
		case "file", "folder":
			page.Entries = append(page.Entries, remote.Entry{
				ID:             m.ID,
				Name:           m.Name,
				PathLower:      m.PathLower,
				PathDisplay:    m.PathDisplay,
				Size:           int64(m.Size),
				IsFolder:       m.Tag == "folder",
				ContentHash:    m.ContentHash,
				ServerModified: m.ServerModified,
			})
		}
	}

	return page
}

// apiPath converts a folder path to the form the API expects: the root is "".
func apiPath(path string) string {
	if path == "/" {
		return ""
	}

	return path
}
