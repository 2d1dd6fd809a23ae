// Package overlay builds the media tool invocations that composite a static
// overlay image onto a finished recording.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/videoapp/api/internal/model"
)

const (
	// DefaultBinary is the media tool argv[0]
	DefaultBinary = "ffmpeg"
	// DefaultOutputName is the file every overlay run writes to
	DefaultOutputName = "FilteredFile.mp4"
	// CenteredFilter places the overlay in the middle of every frame
	CenteredFilter = "overlay=(main_w-overlay_w)/2:(main_h-overlay_h)/2"

	recordingExt = ".mp4"
)

// Builder produces overlay commands. The zero value uses the defaults.
type Builder struct {
	Binary     string
	OutputName string
}

// NewBuilder creates a builder for the given binary and output file name
func NewBuilder(binary, outputName string) *Builder {
	return &Builder{
		Binary:     binary,
		OutputName: outputName,
	}
}

// Build returns the command compositing overlayAssetPath onto the recording
// named sessionName inside destinationDirectory. The directory is created when
// missing; paths are not otherwise validated.
func (b *Builder) Build(sessionName, outputLocation, overlayAssetPath, destinationDirectory string) (model.OverlayCommand, error) {
	if err := os.MkdirAll(destinationDirectory, 0o755); err != nil {
		return model.OverlayCommand{}, fmt.Errorf("failed to create destination directory: %w", err)
	}

	input := filepath.Join(destinationDirectory, sessionName+recordingExt)
	output := filepath.Join(destinationDirectory, b.outputName())

	return model.OverlayCommand{
		Args:        b.Args(input, overlayAssetPath, output),
		InputPath:   input,
		OverlayPath: overlayAssetPath,
		OutputPath:  output,
		SourceURI:   outputLocation,
	}, nil
}

// Args is the pure part of Build: the argv for one overlay run.
func (b *Builder) Args(input, overlayAsset, output string) []string {
	return []string{
		b.binary(),
		"-y",
		"-i", input,
		"-i", overlayAsset,
		"-filter_complex", CenteredFilter,
		"-codec:a", "copy",
		output,
	}
}

func (b *Builder) binary() string {
	if b == nil || b.Binary == "" {
		return DefaultBinary
	}
	return b.Binary
}

func (b *Builder) outputName() string {
	if b == nil || b.OutputName == "" {
		return DefaultOutputName
	}
	return b.OutputName
}
