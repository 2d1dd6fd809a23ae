// Package storage hands out output targets for finished recordings.
package storage

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/videoapp/api/internal/model"
)

// RelativePathMinAPILevel is the first platform level that honours relative paths
const RelativePathMinAPILevel = 29

// LocalStore writes media files below a root directory
type LocalStore struct {
	root     string
	apiLevel int
}

// NewLocalStore creates a store rooted at root
func NewLocalStore(root string, apiLevel int) *LocalStore {
	return &LocalStore{root: root, apiLevel: apiLevel}
}

// Directory returns where a descriptor with relativePath ends up
func (s *LocalStore) Directory(relativePath string) string {
	if s.apiLevel >= RelativePathMinAPILevel && relativePath != "" {
		return filepath.Join(s.root, filepath.FromSlash(relativePath))
	}
	return s.root
}

// CreateOutput reserves a writable file for desc and returns its location
func (s *LocalStore) CreateOutput(desc model.OutputDescriptor) (model.OutputTarget, error) {
	if desc.DisplayName == "" {
		return model.OutputTarget{}, fmt.Errorf("display name is required")
	}

	dir := s.Directory(desc.RelativePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.OutputTarget{}, fmt.Errorf("failed to create media directory: %w", err)
	}

	name := desc.DisplayName
	if filepath.Ext(name) == "" {
		name += extensionFor(desc.MimeType)
	}

	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return model.OutputTarget{}, fmt.Errorf("failed to resolve media path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return model.OutputTarget{}, fmt.Errorf("failed to create media file: %w", err)
	}
	f.Close()

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return model.OutputTarget{URI: u.String(), Path: path}, nil
}

func extensionFor(mimeType string) string {
	if mimeType == "video/mp4" {
		return ".mp4"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.ToLower(exts[0])
}
