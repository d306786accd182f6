// Package creds discovers credentials on the host for injection into
// sandbox containers. Discovery is best-effort: a provider with no
// credentials is simply absent from the result.
package creds

import (
	"os"
	"path/filepath"
)

// Provider identifies a credential issuer.
type Provider string

const (
	Anthropic Provider = "anthropic"
	GitHub    Provider = "github"
	OpenAI    Provider = "openai"
	Google    Provider = "google"
	AWS       Provider = "aws"
)

// Source says where a credential was found.
type Source string

const (
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)

// Entry is one discovered credential. Env-sourced entries carry values to
// inject as environment variables; file-sourced entries carry a host path
// to bind-mount read-only at MountPath.
type Entry struct {
	Provider  Provider
	Source    Source
	EnvVars   map[string]string
	FilePath  string
	MountPath string
}

// Discover checks each supported provider in fixed order. Per provider the
// environment is consulted first, then a well-known file; the first present
// source wins and the other is ignored.
func Discover() []Entry {
	home, _ := os.UserHomeDir()

	var entries []Entry
	for _, probe := range []func(string) (Entry, bool){
		discoverAnthropic,
		discoverGitHub,
		discoverOpenAI,
		discoverGoogle,
		discoverAWS,
	} {
		if e, ok := probe(home); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func discoverAnthropic(home string) (Entry, bool) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return Entry{
			Provider: Anthropic,
			Source:   SourceEnv,
			EnvVars:  map[string]string{"ANTHROPIC_API_KEY": key},
		}, true
	}
	return fileEntry(Anthropic, filepath.Join(home, ".anthropic", "config.json"), "/root/.anthropic/config.json")
}

func discoverGitHub(home string) (Entry, bool) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return Entry{
			Provider: GitHub,
			Source:   SourceEnv,
			EnvVars:  map[string]string{"GITHUB_TOKEN": token},
		}, true
	}
	return fileEntry(GitHub, filepath.Join(home, ".gitconfig"), "/root/.gitconfig")
}

func discoverOpenAI(_ string) (Entry, bool) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return Entry{
			Provider: OpenAI,
			Source:   SourceEnv,
			EnvVars:  map[string]string{"OPENAI_API_KEY": key},
		}, true
	}
	return Entry{}, false
}

func discoverGoogle(_ string) (Entry, bool) {
	// GOOGLE_APPLICATION_CREDENTIALS names a key file; it only counts if
	// the file actually exists.
	path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		return Entry{}, false
	}
	if _, err := os.Stat(path); err != nil {
		return Entry{}, false
	}
	mount := "/run/credentials/google/" + filepath.Base(path)
	return Entry{
		Provider:  Google,
		Source:    SourceFile,
		EnvVars:   map[string]string{"GOOGLE_APPLICATION_CREDENTIALS": mount},
		FilePath:  path,
		MountPath: mount,
	}, true
}

func discoverAWS(home string) (Entry, bool) {
	access := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if access != "" && secret != "" {
		return Entry{
			Provider: AWS,
			Source:   SourceEnv,
			EnvVars: map[string]string{
				"AWS_ACCESS_KEY_ID":     access,
				"AWS_SECRET_ACCESS_KEY": secret,
			},
		}, true
	}
	return fileEntry(AWS, filepath.Join(home, ".aws", "credentials"), "/root/.aws/credentials")
}

// fileEntry maps a host credential file to the path the container user
// expects. Sandbox containers run as root, so the well-known dotfile
// locations resolve under /root regardless of the host user's home.
func fileEntry(p Provider, hostPath, mountPath string) (Entry, bool) {
	if _, err := os.Stat(hostPath); err != nil {
		return Entry{}, false
	}
	return Entry{
		Provider:  p,
		Source:    SourceFile,
		FilePath:  hostPath,
		MountPath: mountPath,
	}, true
}
