package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token/issue" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Cookie") != "unb=me" {
			t.Errorf("cookie not sent: %q", r.Header.Get("Cookie"))
		}
		w.Write([]byte(`{"data":{"accessToken":"tok-1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "appkey", "unb=me")
	tok, err := c.IssueToken(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token: got %q", tok)
	}
}

func TestIssueTokenMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ret":["FAIL_SYS_SESSION_EXPIRED"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "appkey", "")
	if _, err := c.IssueToken(context.Background(), "dev1"); err == nil {
		t.Fatal("expected error for response without accessToken")
	}
}

func TestFetchItemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("itemId"); got != "i1" {
			t.Errorf("itemId: got %q", got)
		}
		w.Write([]byte(`{"data":{"itemDO":{"desc":"old camera","soldPrice":150}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "appkey", "")
	info, err := c.FetchItemInfo(context.Background(), "i1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if info.Description != "old camera" {
		t.Errorf("desc: got %q", info.Description)
	}
	if info.SoldPrice != "150" {
		t.Errorf("price: got %q", info.SoldPrice)
	}
}

func TestFetchItemInfoStringPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"itemDO":{"desc":"lens","soldPrice":"99.50"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "appkey", "")
	info, err := c.FetchItemInfo(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}
	if info.SoldPrice != "99.50" {
		t.Errorf("price: got %q", info.SoldPrice)
	}
}

func TestFetchItemInfoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "appkey", "")
	if _, err := c.FetchItemInfo(context.Background(), "i1"); err == nil {
		t.Fatal("expected error for 502")
	}
}
