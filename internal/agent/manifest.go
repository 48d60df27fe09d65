package agent

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// ReadManifest parses a precache manifest: one origin-relative path per
// line, blank lines and #-comments ignored. The root document and the app
// shell live here; install fetches every entry best-effort.
func ReadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	entries, err := parseManifest(data)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func parseManifest(data []byte) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		if !strings.HasPrefix(entry, "/") {
			return nil, fmt.Errorf("manifest line %d: entry %q must be an origin-relative path", line, entry)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return entries, nil
}

// ManifestVersion derives the installed version from the configured base
// version and the manifest content: base plus a short content hash. A
// manifest edit therefore produces a new generation name even across agent
// restarts, which is what makes "deploy = manifest change" work.
func ManifestVersion(base string, manifest []byte) string {
	sum := sha256.Sum256(manifest)
	return base + "+" + hex.EncodeToString(sum[:4])
}
