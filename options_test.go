package waveviewer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestViewerOptions(t *testing.T) {
	t.Run("DefaultsAreValid", func(t *testing.T) {
		if err := DefaultViewerOptions().Validate(); err != nil {
			t.Fatalf("default options invalid: %v", err)
		}
	})

	t.Run("LoadOverlaysDefaults", func(t *testing.T) {
		path := writeConfig(t, `
title: Scope
colors: ["#ffaa00", "00aaff"]
poll_interval: 250ms
http_addr: 127.0.0.1:5275
`)
		opts, err := LoadViewerOptions(path)
		if err != nil {
			t.Fatalf("LoadViewerOptions() error = %v", err)
		}

		want := DefaultViewerOptions()
		want.Title = "Scope"
		want.Colors = []string{"#ffaa00", "00aaff"}
		want.PollInterval = 250 * time.Millisecond
		want.HTTPAddr = "127.0.0.1:5275"

		if !reflect.DeepEqual(opts, want) {
			t.Fatalf("options mismatch:\nwant: %+v\ngot:  %+v", want, opts)
		}
	})

	t.Run("EmptyFileGivesDefaults", func(t *testing.T) {
		opts, err := LoadViewerOptions(writeConfig(t, ""))
		if err != nil {
			t.Fatalf("LoadViewerOptions() error = %v", err)
		}
		if !reflect.DeepEqual(opts, DefaultViewerOptions()) {
			t.Fatalf("expected defaults, got %+v", opts)
		}
	})

	t.Run("UnknownKeyRejected", func(t *testing.T) {
		_, err := LoadViewerOptions(writeConfig(t, "titel: oops\n"))
		if err == nil || !strings.Contains(err.Error(), "titel") {
			t.Fatalf("expected error naming the unknown key, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadViewerOptions(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected not-exist error, got %v", err)
		}
	})

	t.Run("ValidateRejects", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*ViewerOptions)
			errMsg string
		}{
			{"zero width", func(o *ViewerOptions) { o.Width = 0 }, "window size"},
			{"negative poll", func(o *ViewerOptions) { o.PollInterval = -time.Second }, "poll interval"},
			{"no colors", func(o *ViewerOptions) { o.Colors = nil }, "at least one color"},
			{"named color", func(o *ViewerOptions) { o.Colors = []string{"red"} }, "not a 6 digit hex"},
			{"zero buffer", func(o *ViewerOptions) { o.EventBufferSize = 0 }, "event buffer"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				opts := DefaultViewerOptions()
				tt.mutate(&opts)
				err := opts.Validate()
				if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
					t.Fatalf("Validate() = %v, want error containing %q", err, tt.errMsg)
				}
			})
		}
	})
}

func TestRenderArgs(t *testing.T) {
	t.Run("ArgsRoundTrip", func(t *testing.T) {
		opts := DefaultViewerOptions()
		opts.Title = "-dash title"
		opts.XLabel = "time (s)"
		opts.Colors = []string{"112233"}
		opts.HTTPAddr = "127.0.0.1:0"
		opts.KeepOpen = true
		opts.PollInterval = 20 * time.Millisecond

		got, rest, err := ParseRenderArgs(opts.Args())
		if err != nil {
			t.Fatalf("ParseRenderArgs() error = %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected positional args %v", rest)
		}
		if !reflect.DeepEqual(got, opts) {
			t.Fatalf("options mismatch:\nwant: %+v\ngot:  %+v", opts, got)
		}
	})

	t.Run("FlagsOverrideConfig", func(t *testing.T) {
		path := writeConfig(t, "title: From File\nwidth: 640\n")
		got, _, err := ParseRenderArgs([]string{"--config", path, "--width=800"})
		if err != nil {
			t.Fatalf("ParseRenderArgs() error = %v", err)
		}
		if got.Title != "From File" || got.Width != 800 {
			t.Fatalf("got title=%q width=%d, want From File/800", got.Title, got.Width)
		}
	})
}
