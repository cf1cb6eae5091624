package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public IP literal", "https://93.184.216.34/hook", false},
		{"http scheme allowed", "http://93.184.216.34/hook", false},
		{"bad scheme", "ftp://example.com/hook", true},
		{"no host", "https:///hook", true},
		{"not a url", "://", true},
		{"localhost", "https://localhost/hook", true},
		{"localhost case-insensitive", "https://LOCALHOST/hook", true},
		{"metadata service", "http://metadata.google.internal/computeMetadata", true},
		{"loopback", "http://127.0.0.1:8080/hook", true},
		{"private 10", "https://10.0.0.5/hook", true},
		{"private 192", "https://192.168.1.1/hook", true},
		{"link-local", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified", "http://0.0.0.0/hook", true},
		{"loopback v6", "http://[::1]/hook", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateEndpointURL(%q) err = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
