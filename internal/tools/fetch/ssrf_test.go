package fetch

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestValidatePublicHost(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		blocked bool
	}{
		{"loopback v4", "127.0.0.1", true},
		{"loopback v4 high", "127.8.8.8", true},
		{"private 10", "10.0.0.5", true},
		{"private 172", "172.16.0.1", true},
		{"private 192", "192.168.1.1", true},
		{"link local", "169.254.169.254", true},
		{"cgnat", "100.64.0.1", true},
		{"unspecified", "0.0.0.0", true},
		{"loopback v6", "::1", true},
		{"loopback v6 bracketed", "[::1]", true},
		{"unique local v6", "fd12:3456::1", true},
		{"link local v6", "fe80::1", true},
		{"mapped v4 loopback", "::ffff:127.0.0.1", true},
		{"localhost", "localhost", true},
		{"localhost cased", "LocalHost", true},
		{"localhost trailing dot", "localhost.", true},
		{"localhost subdomain", "foo.localhost", true},
		{"mdns suffix", "printer.local", true},
		{"internal suffix", "db.prod.internal", true},
		{"cloud metadata", "metadata.google.internal", true},
		{"public v4", "8.8.8.8", false},
		{"public v6", "2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublicHost(tt.host)
			if tt.blocked && err == nil {
				t.Errorf("validatePublicHost(%q) = nil, want error", tt.host)
			}
			if !tt.blocked && err != nil {
				t.Errorf("validatePublicHost(%q) = %v, want nil", tt.host, err)
			}
		})
	}
}

func TestFetchURLBlocksPrivateHost(t *testing.T) {
	surface := toolMap(Tools(NewHTTPBackend(time.Second), nil))
	for _, raw := range []string{
		"http://localhost:8080/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
	} {
		res, err := surface["fetch_url"].Execute(context.Background(),
			json.RawMessage(`{"url":"`+raw+`"}`))
		if err != nil {
			t.Fatalf("Execute(%s): %v", raw, err)
		}
		if !res.IsError {
			t.Errorf("fetch of %s must be refused", raw)
		}
	}
}
