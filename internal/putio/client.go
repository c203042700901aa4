// Package putio provides a client for the put.io REST API.
package putio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/putreap/putreap/internal/httpx"
)

// DefaultBaseURL is the production put.io API endpoint.
const DefaultBaseURL = "https://api.put.io/v2"

// DefaultAPITimeout bounds individual API calls. File downloads use their
// own, much longer timeout in the fetcher.
const DefaultAPITimeout = 30 * time.Second

// ErrNotFound indicates the remote object does not exist.
var ErrNotFound = errors.New("putio: not found")

// Client is a put.io REST API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a put.io client authenticated with the given OAuth token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout:   DefaultAPITimeout,
			Transport: httpx.NewRetryTransport(),
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetAccountInfo returns the authenticated account.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var out struct {
		Info AccountInfo `json:"info"`
	}
	if err := c.get(ctx, "/account/info", nil, &out); err != nil {
		return nil, fmt.Errorf("get account info: %w", err)
	}
	return &out.Info, nil
}

// ListTransfersOptions scopes a transfer listing to one instance.
// The transfers endpoint is unscoped, so both filters are applied locally:
// a transfer matches when it was saved under ParentID, or when its source
// carries the instance tag. Either mechanism alone is insufficient - source
// is not always returned and older transfers may predate the folder.
type ListTransfersOptions struct {
	Source   string
	ParentID int64
}

// ListTransfers returns the account's transfers, filtered per opts.
// A zero-value opts returns everything.
func (c *Client) ListTransfers(ctx context.Context, opts ListTransfersOptions) ([]Transfer, error) {
	var out struct {
		Transfers []Transfer `json:"transfers"`
	}
	if err := c.get(ctx, "/transfers/list", nil, &out); err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}

	if opts.Source == "" && opts.ParentID == 0 {
		return out.Transfers, nil
	}

	var matched []Transfer
	for _, t := range out.Transfers {
		if transferMatches(&t, opts) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

func transferMatches(t *Transfer, opts ListTransfersOptions) bool {
	if opts.ParentID != 0 && t.SaveParentID != nil && *t.SaveParentID == opts.ParentID {
		return true
	}
	if opts.Source != "" && t.Source != nil && strings.Contains(*t.Source, opts.Source) {
		return true
	}
	return false
}

// GetTransfer returns a single transfer by id.
func (c *Client) GetTransfer(ctx context.Context, id uint64) (*Transfer, error) {
	var out struct {
		Transfer Transfer `json:"transfer"`
	}
	if err := c.get(ctx, "/transfers/"+strconv.FormatUint(id, 10), nil, &out); err != nil {
		return nil, fmt.Errorf("get transfer %d: %w", id, err)
	}
	return &out.Transfer, nil
}

// AddTransfer submits a magnet link or torrent URL. parentID selects the
// folder the transfer saves into; zero means the account default.
func (c *Client) AddTransfer(ctx context.Context, link string, parentID int64) (*Transfer, error) {
	form := url.Values{"url": {link}}
	if parentID != 0 {
		form.Set("save_parent_id", strconv.FormatInt(parentID, 10))
	}

	var out struct {
		Transfer Transfer `json:"transfer"`
	}
	if err := c.postForm(ctx, "/transfers/add", form, &out); err != nil {
		return nil, fmt.Errorf("add transfer: %w", err)
	}

	c.logger.Info().
		Uint64("transfer_id", out.Transfer.ID).
		Int64("parent_id", parentID).
		Msg("transfer added")

	return &out.Transfer, nil
}

// UploadFile uploads a torrent file, which put.io turns into a transfer
// saved under parentID.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte, parentID int64) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err = fw.Write(data); err != nil {
		return err
	}
	if parentID != 0 {
		if err = mw.WriteField("parent_id", strconv.FormatInt(parentID, 10)); err != nil {
			return err
		}
	}
	if err = mw.Close(); err != nil {
		return err
	}

	body := buf.Bytes()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err = c.do(req, nil); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	c.logger.Info().Str("name", name).Int64("parent_id", parentID).Msg("torrent uploaded")
	return nil
}

// RemoveTransfer removes a transfer from the account. A transfer that is
// already gone counts as removed.
func (c *Client) RemoveTransfer(ctx context.Context, id uint64) error {
	form := url.Values{"transfer_ids": {strconv.FormatUint(id, 10)}}
	err := c.postForm(ctx, "/transfers/cancel", form, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove transfer %d: %w", id, err)
	}
	return nil
}

// DeleteFile deletes a file or folder tree. A file that is already gone
// counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, fileID int64) error {
	form := url.Values{"file_ids": {strconv.FormatInt(fileID, 10)}}
	err := c.postForm(ctx, "/files/delete", form, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete file %d: %w", fileID, err)
	}
	return nil
}

// CreateFolder creates a folder under parentID and returns it.
func (c *Client) CreateFolder(ctx context.Context, name string, parentID int64) (*File, error) {
	form := url.Values{
		"name":      {name},
		"parent_id": {strconv.FormatInt(parentID, 10)},
	}

	var out struct {
		File File `json:"file"`
	}
	if err := c.postForm(ctx, "/files/create-folder", form, &out); err != nil {
		return nil, fmt.Errorf("create folder %q: %w", name, err)
	}
	return &out.File, nil
}

// ListFiles returns the node parentID together with its direct children.
func (c *Client) ListFiles(ctx context.Context, parentID int64) (*FileListing, error) {
	params := url.Values{"parent_id": {strconv.FormatInt(parentID, 10)}}

	var out FileListing
	if err := c.get(ctx, "/files/list", params, &out); err != nil {
		return nil, fmt.Errorf("list files %d: %w", parentID, err)
	}
	return &out, nil
}

// GetFileURL resolves the direct download URL for a file.
func (c *Client) GetFileURL(ctx context.Context, fileID int64) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, fmt.Sprintf("/files/%d/url", fileID), nil, &out); err != nil {
		return "", fmt.Errorf("get file url %d: %w", fileID, err)
	}
	return out.URL, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	body := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("putio: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
