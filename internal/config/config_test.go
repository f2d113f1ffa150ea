// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layoutdump.toml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
log_format = "json"
merge_tolerance = 16
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogLevel: "debug", LogFormat: "json", MergeTolerance: 16, Workers: 4}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	l := logrus.New()
	if err := c.ConfigureLogger(l); err != nil {
		t.Fatal(err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter is %T, want JSON", l.Formatter)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, test := range []struct {
		name, text, want string
	}{
		{"unknown key", "colour = 1\n", "unknown keys colour"},
		{"bad level", `log_level = "loud"` + "\n", "not a valid logrus Level"},
		{"bad format", `log_format = "xml"` + "\n", `unknown log format "xml"`},
		{"negative workers", "workers = -1\n", "negative workers"},
		{"tolerance", "merge_tolerance = -4\n", "out of range"},
		{"syntax", "log_level = \n", ""},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.text))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("got error %v, want one containing %q", err, test.want)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("loading a missing file succeeded")
	}
}
