package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServer_StartStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	})

	s := New(Config{Address: "127.0.0.1:0", Handler: handler})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := http.Get("http://" + s.Addr() + "/ping"); err == nil {
		t.Error("expected request to fail after Stop")
	}
}

func TestServer_TLS(t *testing.T) {
	// borrow httptest's certificate and its trusting client
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.StartTLS()
	defer ts.Close()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			t.Error("request not served over TLS")
		}
		io.WriteString(w, "secure")
	})
	s := New(Config{
		Address: "127.0.0.1:0",
		Handler: handler,
		TLS:     &tls.Config{Certificates: ts.TLS.Certificates},
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())

	resp, err := ts.Client().Get("https://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "secure" {
		t.Errorf("body = %q, want secure", body)
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	s := New(Config{Address: ln.Addr().String(), Handler: http.NotFoundHandler()})
	if err := s.Start(); err == nil {
		s.Stop(context.Background())
		t.Fatal("expected error for address in use")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Address: ":0"})
	if s.httpServer.ReadTimeout != 30*time.Second || s.httpServer.WriteTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v", s.httpServer.ReadTimeout, s.httpServer.WriteTimeout)
	}
	if s.Addr() != ":0" {
		t.Errorf("Addr() before Start = %q", s.Addr())
	}
}
