package overlay

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestBuild_CommandShape(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "videos")
	b := NewBuilder("", "")

	cmd, err := b.Build("20240101_120000", "content://media/120", "logo.png", dir)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	wantInput := filepath.Join(dir, "20240101_120000.mp4")
	wantOutput := filepath.Join(dir, "FilteredFile.mp4")
	want := []string{
		"ffmpeg", "-y",
		"-i", wantInput,
		"-i", "logo.png",
		"-filter_complex", "overlay=(main_w-overlay_w)/2:(main_h-overlay_h)/2",
		"-codec:a", "copy",
		wantOutput,
	}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("unexpected args:\n got %q\nwant %q", cmd.Args, want)
	}
	if cmd.InputPath != wantInput || cmd.OutputPath != wantOutput {
		t.Errorf("unexpected paths: in=%s out=%s", cmd.InputPath, cmd.OutputPath)
	}
	if cmd.SourceURI != "content://media/120" {
		t.Errorf("expected source uri to be carried, got %q", cmd.SourceURI)
	}

	line := cmd.String()
	for _, part := range []string{wantInput, "logo.png", CenteredFilter, wantOutput} {
		if !strings.Contains(line, part) {
			t.Errorf("command line %q missing %q", line, part)
		}
	}
}

func TestBuild_CreatesDestinationDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	if _, err := NewBuilder("ffmpeg", "out.mp4").Build("s", "", "logo.png", dir); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("destination directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("expected %s to be a directory", dir)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder("/usr/bin/ffmpeg", "watermarked.mp4")

	first, err := b.Build("20240101_120000", "file:///x", "/assets/logo one.png", dir)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, err := b.Build("20240101_120000", "file:///x", "/assets/logo one.png", dir)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical commands, got %+v and %+v", first, second)
	}
	if first.String() != second.String() {
		t.Errorf("expected identical command lines")
	}
	if first.Args[0] != "/usr/bin/ffmpeg" {
		t.Errorf("expected custom binary, got %s", first.Args[0])
	}
	if filepath.Base(first.OutputPath) != "watermarked.mp4" {
		t.Errorf("expected custom output name, got %s", first.OutputPath)
	}
}

func TestBuild_PathsWithSpacesStayOneArgument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my videos")

	cmd, err := NewBuilder("", "").Build("rec", "", "logo; rm -rf x.png", dir)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if cmd.Args[5] != "logo; rm -rf x.png" {
		t.Errorf("overlay path must be passed verbatim as one argument, got %q", cmd.Args[5])
	}
	if !strings.Contains(cmd.String(), `"logo; rm -rf x.png"`) {
		t.Errorf("expected quoted overlay path in %q", cmd.String())
	}
}

func TestBuild_MkdirFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := NewBuilder("", "").Build("rec", "", "logo.png", filepath.Join(file, "sub")); err == nil {
		t.Error("expected error when destination cannot be created")
	}
}
