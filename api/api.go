// Package api is the client for the marketplace REST endpoints the session
// layer depends on: credential issuance and item metadata. It works
// independently of the push socket and needs no live connection.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flealive/flealive/item"
)

// Client communicates with the marketplace REST API.
type Client struct {
	base       string
	appKey     string
	cookie     string
	httpClient *http.Client
}

// NewClient creates an API client. cookie carries the account session and
// is sent on every request.
func NewClient(base, appKey, cookie string) *Client {
	return &Client{
		base:       base,
		appKey:     appKey,
		cookie:     cookie,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IssueToken obtains a fresh access token for the device.
func (c *Client) IssueToken(ctx context.Context, deviceID string) (string, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/token/issue", map[string]string{
		"appKey":   c.appKey,
		"deviceId": deviceID,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("api: decode token response: %w", err)
	}
	if resp.Data.AccessToken == "" {
		return "", fmt.Errorf("api: token response carried no accessToken")
	}
	return resp.Data.AccessToken, nil
}

// FetchItemInfo fetches the listing metadata for an item.
func (c *Client) FetchItemInfo(ctx context.Context, itemID string) (item.Info, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/item/detail?itemId="+url.QueryEscape(itemID), nil)
	if err != nil {
		return item.Info{}, err
	}
	var resp struct {
		Data struct {
			ItemDO struct {
				Desc      string          `json:"desc"`
				SoldPrice json.RawMessage `json:"soldPrice"`
			} `json:"itemDO"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return item.Info{}, fmt.Errorf("api: decode item response: %w", err)
	}
	if resp.Data.ItemDO.Desc == "" {
		return item.Info{}, fmt.Errorf("api: item %s: response carried no itemDO", itemID)
	}
	return item.Info{
		Description: resp.Data.ItemDO.Desc,
		SoldPrice:   rawString(resp.Data.ItemDO.SoldPrice),
	}, nil
}

// doJSON sends a request with the account cookie and returns the raw
// response body.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api %s %s: %d %s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// rawString renders a JSON value that may be a string or a number (prices
// arrive as both) as its bare text.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
