package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestClientSendSuccess(t *testing.T) {
	var captured struct {
		path    string
		apiKey  string
		payload map[string]any
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.apiKey = r.Header.Get("X-API-KEY")
		if err := json.NewDecoder(r.Body).Decode(&captured.payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":1,"message":"success","data":{"packId":"pk_100","messageIds":[900132],"cost":1.5}}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "key-1", BaseURL: server.URL, LineNumber: 30007732})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	receipt, err := client.Send(context.Background(), SendRequest{
		Recipient: "۰۹۱۲۳۴۵۶۷۸۹",
		Message:   "  order shipped  ",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if captured.path != "/send/bulk" {
		t.Fatalf("expected /send/bulk got %s", captured.path)
	}
	if captured.apiKey != "key-1" {
		t.Fatalf("expected api key header got %q", captured.apiKey)
	}
	if captured.payload["messageText"] != "order shipped" {
		t.Fatalf("expected trimmed message got %v", captured.payload["messageText"])
	}
	mobiles, ok := captured.payload["mobiles"].([]any)
	if !ok || len(mobiles) != 1 || mobiles[0] != "9123456789" {
		t.Fatalf("expected normalized mobile got %v", captured.payload["mobiles"])
	}
	if captured.payload["lineNumber"] != float64(30007732) {
		t.Fatalf("expected line number got %v", captured.payload["lineNumber"])
	}

	if receipt.PackID != "pk_100" {
		t.Fatalf("expected pack id pk_100 got %q", receipt.PackID)
	}
	if !reflect.DeepEqual(receipt.MessageIDs, []int64{900132}) {
		t.Fatalf("unexpected message ids %v", receipt.MessageIDs)
	}
	if receipt.Cost != 1.5 {
		t.Fatalf("expected cost 1.5 got %v", receipt.Cost)
	}
	if receipt.StatusCode != 1 || receipt.StatusMessage != "success" {
		t.Fatalf("unexpected status %d %q", receipt.StatusCode, receipt.StatusMessage)
	}
}

func TestClientSendRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":110,"message":"invalid line number","data":{}}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "key-1", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	receipt, err := client.Send(context.Background(), SendRequest{Recipient: "09120000000", Message: "hi"})
	if !errors.Is(err, ErrSendRejected) {
		t.Fatalf("expected ErrSendRejected got %v", err)
	}
	if receipt.StatusCode != 110 || receipt.StatusMessage != "invalid line number" {
		t.Fatalf("expected provider status retained got %d %q", receipt.StatusCode, receipt.StatusMessage)
	}
}

func TestClientSendValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the provider")
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "key-1", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.Send(context.Background(), SendRequest{Recipient: "abc", Message: "hi"}); err == nil {
		t.Fatal("expected error for recipient without digits")
	}
	if _, err := client.Send(context.Background(), SendRequest{Recipient: "09120000000", Message: "   "}); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestClientCredit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/credit" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":1,"message":"success","data":1542.75}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "key-1", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	credit, err := client.Credit(context.Background())
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if credit != 1542.75 {
		t.Fatalf("expected 1542.75 got %v", credit)
	}
}

func TestClientCreditFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{APIKey: "key-1", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.Credit(context.Background()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected transport error got %v", err)
	}
}

func TestNormalizeMobile(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"09123456789", "9123456789"},
		{"+98 912 345 6789", "9123456789"},
		{"00989123456789", "9123456789"},
		{"۰۹۱۲۳۴۵۶۷۸۹", "9123456789"},
		{"9123456789", "9123456789"},
		{"9812345678", "9812345678"},
		{"09812345678", "9812345678"},
		{"989123456789", "9123456789"},
		{"", ""},
	}
	for _, tc := range cases {
		if actual := NormalizeMobile(tc.input); actual != tc.expected {
			t.Fatalf("NormalizeMobile(%q) = %q, expected %q", tc.input, actual, tc.expected)
		}
	}
}
