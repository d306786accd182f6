package creds

import (
	"os"
	"path/filepath"
	"testing"
)

// clearCredEnv blanks every credential variable so host state cannot leak
// into test runs.
func clearCredEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"ANTHROPIC_API_KEY", "GITHUB_TOKEN", "OPENAI_API_KEY",
		"GOOGLE_APPLICATION_CREDENTIALS", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	} {
		t.Setenv(v, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func findProvider(entries []Entry, p Provider) (Entry, bool) {
	for _, e := range entries {
		if e.Provider == p {
			return e, true
		}
	}
	return Entry{}, false
}

func TestDiscoverEmpty(t *testing.T) {
	clearCredEnv(t)

	if entries := Discover(); len(entries) != 0 {
		t.Fatalf("expected no credentials, got %d", len(entries))
	}
}

func TestDiscoverEnvVars(t *testing.T) {
	clearCredEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-openai-test")

	entries := Discover()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e, ok := findProvider(entries, Anthropic)
	if !ok {
		t.Fatal("anthropic entry missing")
	}
	if e.Source != SourceEnv {
		t.Errorf("expected env source, got %s", e.Source)
	}
	if e.EnvVars["ANTHROPIC_API_KEY"] != "sk-ant-test" {
		t.Errorf("unexpected env mapping: %v", e.EnvVars)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	clearCredEnv(t)
	home := os.Getenv("HOME")

	// Both sources present: the env var must win and the file be ignored.
	if err := os.MkdirAll(filepath.Join(home, ".anthropic"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".anthropic", "config.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

	entries := Discover()
	e, ok := findProvider(entries, Anthropic)
	if !ok {
		t.Fatal("anthropic entry missing")
	}
	if e.Source != SourceEnv {
		t.Errorf("expected env source to win, got %s", e.Source)
	}
	if e.FilePath != "" {
		t.Errorf("file path should not be set when env wins: %q", e.FilePath)
	}
}

func TestDiscoverFileFallback(t *testing.T) {
	clearCredEnv(t)
	home := os.Getenv("HOME")

	if err := os.WriteFile(filepath.Join(home, ".gitconfig"), []byte("[user]\n"), 0600); err != nil {
		t.Fatal(err)
	}

	entries := Discover()
	e, ok := findProvider(entries, GitHub)
	if !ok {
		t.Fatal("github entry missing")
	}
	if e.Source != SourceFile {
		t.Errorf("expected file source, got %s", e.Source)
	}
	// The host path differs from the container path: the container runs
	// as root, so the file must land in root's home to be found.
	if e.FilePath != filepath.Join(home, ".gitconfig") {
		t.Errorf("host path: %q", e.FilePath)
	}
	if e.MountPath != "/root/.gitconfig" {
		t.Errorf("gitconfig must mount into the container home: %q", e.MountPath)
	}
}

func TestFileMountsResolveInContainer(t *testing.T) {
	clearCredEnv(t)
	home := os.Getenv("HOME")

	if err := os.MkdirAll(filepath.Join(home, ".aws"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".aws", "credentials"), []byte("[default]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, ".anthropic"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".anthropic", "config.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	entries := Discover()
	want := map[Provider]string{
		AWS:       "/root/.aws/credentials",
		Anthropic: "/root/.anthropic/config.json",
	}
	for p, mount := range want {
		e, ok := findProvider(entries, p)
		if !ok {
			t.Errorf("%s entry missing", p)
			continue
		}
		if e.MountPath != mount {
			t.Errorf("%s mount: expected %q, got %q", p, mount, e.MountPath)
		}
	}
}

func TestGoogleRequiresExistingFile(t *testing.T) {
	clearCredEnv(t)
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/nonexistent/key.json")

	if entries := Discover(); len(entries) != 0 {
		t.Fatalf("dangling key path should be ignored, got %d entries", len(entries))
	}

	key := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(key, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", key)

	entries := Discover()
	e, ok := findProvider(entries, Google)
	if !ok {
		t.Fatal("google entry missing")
	}
	if e.Source != SourceFile {
		t.Errorf("expected file source, got %s", e.Source)
	}
	// The injected variable must point at the in-container mount, not the
	// host path.
	if e.EnvVars["GOOGLE_APPLICATION_CREDENTIALS"] != e.MountPath {
		t.Errorf("env should reference mount path %q, got %q", e.MountPath, e.EnvVars["GOOGLE_APPLICATION_CREDENTIALS"])
	}
}

func TestAWSRequiresBothKeys(t *testing.T) {
	clearCredEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")

	if entries := Discover(); len(entries) != 0 {
		t.Fatalf("access key without secret should be ignored, got %d entries", len(entries))
	}

	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	entries := Discover()
	e, ok := findProvider(entries, AWS)
	if !ok {
		t.Fatal("aws entry missing")
	}
	if len(e.EnvVars) != 2 {
		t.Errorf("expected both aws vars, got %v", e.EnvVars)
	}
}
