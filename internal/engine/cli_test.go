package engine

import (
	"reflect"
	"testing"
)

func TestRunArgs(t *testing.T) {
	spec := StartSpec{
		Name:          "devport-demo",
		Image:         "android-dev-base:latest",
		HostPort:      20000,
		ContainerPort: 8080,
		Directory:     "/data/sessions/20240101-120000-demo",
		WorkspacePath: "/workspace",
		Env: map[string]string{
			"PASSWORD": "secret",
			"API_KEY":  "k",
		},
		MemoryLimit: "4g",
	}

	got := runArgs(spec)
	want := []string{
		"run", "-d",
		"--name", "devport-demo",
		"--label", "managed-by=devport",
		"-p", "20000:8080",
		"-v", "/data/sessions/20240101-120000-demo:/workspace",
		"-e", "API_KEY=k",
		"-e", "PASSWORD=secret",
		"--memory", "4g",
		"android-dev-base:latest",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("runArgs mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRunArgsNoOptionals(t *testing.T) {
	spec := StartSpec{
		Name:          "s",
		Image:         "img",
		HostPort:      20001,
		ContainerPort: 8080,
		Directory:     "/d",
		WorkspacePath: "/workspace",
	}
	got := runArgs(spec)
	for _, arg := range got {
		if arg == "--memory" || arg == "-e" {
			t.Errorf("unexpected optional arg %q in %q", arg, got)
		}
	}
	if got[len(got)-1] != "img" {
		t.Errorf("image should be last arg, got %q", got[len(got)-1])
	}
}

func TestParseInspectOutput(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"true 0", Status{Running: true, ExitCode: 0}, false},
		{"false 137", Status{Running: false, ExitCode: 137}, false},
		{"false 1", Status{Running: false, ExitCode: 1}, false},
		{"garbage", Status{}, true},
		{"yes 0", Status{}, true},
		{"true x", Status{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInspectOutput(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseInspectOutput(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInspectOutput(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseInspectOutput(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsCLINotFound(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{`docker inspect: exit status 1: Error: No such container: foo`, true},
		{`docker inspect: exit status 1: Error: No such object: foo`, true},
		{`podman stop: exit status 125: no container with name or ID "foo" found`, true},
		{`docker run: exit status 125: port is already allocated`, false},
	}
	for _, tt := range tests {
		if got := isCLINotFound(errFromString(tt.msg)); got != tt.want {
			t.Errorf("isCLINotFound(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type errFromString string

func (e errFromString) Error() string { return string(e) }
