package internal

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewApplication_RequiresConfig(t *testing.T) {
	if _, err := newApplication(nil); !errors.Is(err, errConfigRequired) {
		t.Fatalf("err = %v, want errConfigRequired", err)
	}
}

func TestNewApplication_Options(t *testing.T) {
	var buf bytes.Buffer
	app, err := newApplication([]Option{
		WithConfig(NewDefaultConfig()),
		WithVersion("1.2.3"),
		WithLogOutput(&buf),
	})
	if err != nil {
		t.Fatal(err)
	}
	if app.version != "1.2.3" {
		t.Errorf("version = %q", app.version)
	}
	if app.output(nil) != &buf {
		t.Error("log output option ignored")
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); !errors.Is(err, errConfigRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestReset_RequiresConfirmation(t *testing.T) {
	// No store is opened before the confirmation check.
	err := Reset(context.Background(), false, WithConfig(NewDefaultConfig()))
	if !errors.Is(err, ErrResetNotConfirmed) {
		t.Fatalf("err = %v, want ErrResetNotConfirmed", err)
	}
}

func TestWriteStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeStatus(rec, http.StatusServiceUnavailable, "unavailable")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"status":"unavailable"}` {
		t.Errorf("body = %s", got)
	}
}
