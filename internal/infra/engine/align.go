package engine

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/tutu-network/mtran/internal/domain"
)

// alignedCopy copies data into a fresh buffer whose first byte sits on an
// align-byte boundary. align must be a power of two.
func alignedCopy(data []byte, align int) []byte {
	if align <= 1 || len(data) == 0 {
		return append([]byte(nil), data...)
	}
	raw := make([]byte, len(data)+align-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	buf := raw[off : off+len(data) : off+len(data)]
	copy(buf, data)
	return buf
}

// isAligned reports whether buf starts on an align-byte boundary.
func isAligned(buf []byte, align int) bool {
	if len(buf) == 0 || align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))&uintptr(align-1) == 0
}

// LoadBundle reads every artifact in files from disk. The required roles
// must all be present; the quality model is optional.
func LoadBundle(pair domain.PairKey, version string, files domain.ModelFiles) (domain.ModelBundle, error) {
	bundle := domain.ModelBundle{
		Pair:      pair,
		Version:   version,
		Artifacts: make(map[domain.ArtifactRole][]byte, len(files)),
		Files:     files,
	}
	for _, role := range domain.RequiredRoles {
		if files[role] == "" {
			return bundle, &domain.EngineInitError{Pair: pair, Err: fmt.Errorf("%w: %s", domain.ErrArtifactMissing, role)}
		}
	}
	for role, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return bundle, &domain.EngineInitError{Pair: pair, Err: fmt.Errorf("%w: read %s: %v", domain.ErrArtifactMissing, role, err)}
		}
		bundle.Artifacts[role] = data
	}
	return bundle, nil
}
