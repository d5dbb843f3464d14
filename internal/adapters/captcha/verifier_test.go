package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecaptchaVerifier_Verify(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      bool
		wantRejected bool
	}{
		{"accepted", 200, `{"success":true,"score":0.9,"action":"register"}`, false, false},
		{"low score", 200, `{"success":true,"score":0.1,"action":"register"}`, true, true},
		{"wrong action", 200, `{"success":true,"score":0.9,"action":"login"}`, true, true},
		{"unsuccessful", 200, `{"success":false,"error-codes":["invalid-input-response"]}`, true, true},
		{"server error", 500, ``, true, false},
		{"garbage body", 200, `not json`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Errorf("ParseForm: %v", err)
				}
				if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") != "tok" {
					t.Errorf("form = %v", r.PostForm)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			v := NewRecaptchaVerifier("s3cret").WithEndpoint(srv.URL)
			err := v.Verify(context.Background(), "tok", "register", "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRejected) != tt.wantRejected {
				t.Errorf("errors.Is(err, ErrRejected) = %v, want %v", errors.Is(err, ErrRejected), tt.wantRejected)
			}
		})
	}
}

func TestRecaptchaVerifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewRecaptchaVerifier("s").WithEndpoint(url).Verify(context.Background(), "tok", "register", "")
	if err == nil || errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestNoopVerifier(t *testing.T) {
	if err := (NoopVerifier{}).Verify(context.Background(), "", "", ""); err != nil {
		t.Errorf("NoopVerifier returned %v", err)
	}
}
