package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeyLifecycle(t *testing.T) {
	dir := t.TempDir()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	common := []string{"--config", filepath.Join(dir, "missing.yaml"), "--dir", dir, "--identity", id.String()}
	with := func(args ...string) []string { return append(append([]string{}, args...), common...) }

	out, err := run(t, with("list")...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "v1") || !strings.Contains(out, "*") {
		t.Fatalf("bootstrap manifest not listed:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "private_v1.age")); err != nil {
		t.Fatalf("sealed private key missing: %v", err)
	}

	if out, err = run(t, with("generate")...); err != nil || !strings.HasPrefix(out, "generated v2") {
		t.Fatalf("generate: %q %v", out, err)
	}
	if out, err = run(t, with("rotate")...); err != nil || !strings.HasPrefix(out, "rotated to v3") {
		t.Fatalf("rotate: %q %v", out, err)
	}
	if out, err = run(t, with("promote", "2")...); err != nil || !strings.Contains(out, "v2") {
		t.Fatalf("promote: %q %v", out, err)
	}

	out, err = run(t, with("prune", "--retain", "1", "--min-age", "0s")...)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if out != "pruned v1\n" {
		t.Fatalf("prune output = %q", out)
	}

	out, err = run(t, with("list")...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, "v1 ") || !strings.Contains(out, "v2") || !strings.Contains(out, "v3") {
		t.Fatalf("unexpected manifest after prune:\n%s", out)
	}
}

func TestPromoteRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	for _, arg := range []string{"0", "abc", "-1"} {
		if _, err := run(t, "promote", arg, "--dir", dir, "--config", filepath.Join(dir, "none.yaml")); err == nil {
			t.Fatalf("promote %q accepted", arg)
		}
	}
	if _, err := run(t, "promote", "9", "--dir", dir, "--config", filepath.Join(dir, "none.yaml")); err == nil {
		t.Fatal("promote of unknown version accepted")
	}
}

func TestAgeKeygen(t *testing.T) {
	out, err := run(t, "age-keygen")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out)
	}
	if _, err := age.ParseX25519Identity(lines[1]); err != nil {
		t.Fatalf("identity does not parse: %v", err)
	}
}
