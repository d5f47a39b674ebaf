package plugins

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestInfo pairs a decoded manifest with the file it came from. Dir is
// the manifest's directory, used to resolve relative commands.
type ManifestInfo struct {
	Manifest *Manifest
	Path     string
	Dir      string
}

// Discover walks dir for *.plugin.json files and returns the decoded
// manifests sorted by tool name. A missing directory is not an error; a
// duplicate tool name across manifests is.
func Discover(dir string) ([]ManifestInfo, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat plugin dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin path %s is not a directory", dir)
	}

	byName := map[string]ManifestInfo{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ManifestSuffix) {
			return nil
		}
		manifest, err := DecodeManifestFile(path)
		if err != nil {
			return err
		}
		if existing, ok := byName[manifest.Name]; ok {
			return fmt.Errorf("duplicate plugin name %q (%s, %s)", manifest.Name, existing.Path, path)
		}
		byName[manifest.Name] = ManifestInfo{
			Manifest: manifest,
			Path:     path,
			Dir:      filepath.Dir(path),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk plugin dir: %w", err)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	found := make([]ManifestInfo, 0, len(names))
	for _, name := range names {
		found = append(found, byName[name])
	}
	return found, nil
}
