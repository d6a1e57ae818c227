package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPAPIProvider_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/203.0.113.7") {
			t.Errorf("Expected path to start with '/203.0.113.7', got '%s'", r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","countryCode":"de","country":"Germany","city":"Berlin","regionName":"Berlin","isp":"Example ISP","lat":52.52,"lon":13.405}`))
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.Client())
	provider.baseURL = server.URL

	info, err := provider.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if info.CountryCode != "DE" {
		t.Errorf("Expected country code uppercased to 'DE', got '%s'", info.CountryCode)
	}
	if info.City != "Berlin" || info.ISP != "Example ISP" {
		t.Errorf("Unexpected payload: %+v", info)
	}
	if info.Source != "ip-api" {
		t.Errorf("Expected source 'ip-api', got '%s'", info.Source)
	}
}

func TestIPAPIProvider_LookupFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.Client())
	provider.baseURL = server.URL

	if _, err := provider.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Expected error for failed lookup status")
	}
}

func TestIPAPIProvider_NonOKResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.Client())
	provider.baseURL = server.URL

	if _, err := provider.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestIPWhoisProvider_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"country_code":"FR","country":"France","city":"Paris","region":"Ile-de-France","latitude":48.85,"longitude":2.35,"connection":{"isp":"Example SA"}}`))
	}))
	defer server.Close()

	provider := NewIPWhoisProvider(server.Client())
	provider.baseURL = server.URL

	info, err := provider.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if info.CountryCode != "FR" || info.ISP != "Example SA" {
		t.Errorf("Unexpected payload: %+v", info)
	}
	if info.Source != "ipwhois" {
		t.Errorf("Expected source 'ipwhois', got '%s'", info.Source)
	}
}

func TestIPWhoisProvider_LookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"invalid IP"}`))
	}))
	defer server.Close()

	provider := NewIPWhoisProvider(server.Client())
	provider.baseURL = server.URL

	if _, err := provider.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Error("Expected error for unsuccessful lookup")
	}
}

func TestSanitize_CapsUntrustedFields(t *testing.T) {
	info := &LocationInfo{
		CountryCode: "deu",
		CountryName: strings.Repeat("x", 300),
		City:        "Ber\x00lin\n",
		ISP:         strings.Repeat("y", 300),
	}
	info.Sanitize()

	if info.CountryCode != "DE" {
		t.Errorf("Expected country code capped and uppercased to 'DE', got '%s'", info.CountryCode)
	}
	if len(info.CountryName) != 100 {
		t.Errorf("Expected country name capped at 100, got %d", len(info.CountryName))
	}
	if info.City != "Berlin" {
		t.Errorf("Expected control characters stripped, got '%s'", info.City)
	}
	if len(info.ISP) != 255 {
		t.Errorf("Expected ISP capped at 255, got %d", len(info.ISP))
	}
}
