package main

import (
	"reflect"
	"testing"
)

func TestTrustedOrigins(t *testing.T) {
	tests := []struct {
		site string
		want []string
	}{
		{"", nil},
		{"https://robolearn.example", []string{"robolearn.example"}},
		{"http://localhost:8080", []string{"localhost:8080"}},
		{"not a url", nil},
	}
	for _, tt := range tests {
		if got := trustedOrigins(tt.site); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("trustedOrigins(%q) = %v, want %v", tt.site, got, tt.want)
		}
	}
}
