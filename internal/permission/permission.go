// Package permission answers which capabilities the operator granted.
package permission

import (
	"strings"

	"github.com/videoapp/api/internal/model"
)

// LegacyStorageMaxAPILevel is the last platform level that needs an explicit
// storage grant to write recordings.
const LegacyStorageMaxAPILevel = 28

// Static is a fixed set of grants loaded from configuration
type Static struct {
	granted map[model.Capability]bool
}

// NewStatic builds grants from capability names. Unknown names are ignored.
func NewStatic(names []string) *Static {
	s := &Static{granted: make(map[model.Capability]bool)}
	for _, name := range names {
		switch c := model.Capability(strings.ToLower(strings.TrimSpace(name))); c {
		case model.CapabilityCamera, model.CapabilityMicrophone, model.CapabilityStorage:
			s.granted[c] = true
		}
	}
	return s
}

// Has reports whether c was granted
func (s *Static) Has(c model.Capability) bool {
	return s.granted[c]
}

// Required lists the capabilities a capture needs on apiLevel
func Required(apiLevel int) []model.Capability {
	required := []model.Capability{model.CapabilityCamera, model.CapabilityMicrophone}
	if apiLevel <= LegacyStorageMaxAPILevel {
		required = append(required, model.CapabilityStorage)
	}
	return required
}
