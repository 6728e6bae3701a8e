package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clobcore/matching-engine/internal/quotefeed"
)

func TestPostJSONSendsBodyAndReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got["market"] != "BTC-USD" {
			t.Fatalf("market = %v, want BTC-USD", got["market"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	serverURL = srv.URL

	body, err := postJSON("/order", map[string]interface{}{"market": "BTC-USD"})
	if err != nil {
		t.Fatalf("postJSON: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("response = %v, want success=true", resp)
	}
}

func TestGetURLReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := getURL(srv.URL)
	if err != nil {
		t.Fatalf("getURL: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
}

func TestDoSendsGivenRequest(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Write([]byte(`{"cancelled":true}`))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/cancel", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	body, err := do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if method != http.MethodDelete {
		t.Fatalf("method = %s, want DELETE", method)
	}
	if string(body) != `{"cancelled":true}` {
		t.Fatalf("body = %q", body)
	}
}

func TestPrintBookDoesNotPanicOnEmptyDepth(t *testing.T) {
	printBook(quotefeed.L2Depth{Market: "BTC-USD"})
}

func TestPrintJSONBytesFallsBackToRawOnInvalidJSON(t *testing.T) {
	printJSONBytes([]byte("not json"))
}
