package schema

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
)

//go:embed schemas/*.yaml
var embedded embed.FS

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}$`)

// Source loads raw definitions by version.
type Source interface {
	Load(version string) ([]byte, error)
}

// FSSource reads adf-<version>.yaml files from a filesystem.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource wraps fsys.
func NewFSSource(fsys fs.FS) FSSource {
	return FSSource{fsys: fsys}
}

// Embedded returns the definitions compiled into the binary.
func Embedded() FSSource {
	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		panic(err)
	}
	return FSSource{fsys: sub}
}

// Load implements Source.
func (s FSSource) Load(version string) ([]byte, error) {
	if !versionPattern.MatchString(version) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	data, err := fs.ReadFile(s.fsys, FileName(version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return data, err
}

// FileName is the definition file name for version.
func FileName(version string) string {
	return "adf-" + version + ".yaml"
}

// Layered tries each source in order; the first that knows the version wins.
type Layered []Source

// Load implements Source.
func (l Layered) Load(version string) ([]byte, error) {
	for _, src := range l {
		data, err := src.Load(version)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrUnknownVersion) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
}

// NewSource returns the embedded definitions, overridden by overrideDir when set.
func NewSource(overrideDir string) Source {
	if overrideDir == "" {
		return Embedded()
	}
	return Layered{NewFSSource(os.DirFS(overrideDir)), Embedded()}
}
