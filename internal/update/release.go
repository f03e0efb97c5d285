package update

import (
	"runtime"
	"strings"
	"time"
)

const checksumAssetName = "checksums.txt"

// ReleaseAsset is a file attached to a GitHub release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
}

// ReleaseInfo is the subset of the GitHub release object the feed reads.
type ReleaseInfo struct {
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	Body        string         `json:"body"`
	HTMLURL     string         `json:"html_url"`
	PublishedAt time.Time      `json:"published_at"`
	Prerelease  bool           `json:"prerelease"`
	Draft       bool           `json:"draft"`
	Assets      []ReleaseAsset `json:"assets"`
}

// UpdateInfo describes one check result. The same value travels with
// the available and downloaded events; StagedPath is only set on the
// latter.
type UpdateInfo struct {
	CurrentVersion  Version
	LatestVersion   Version
	UpdateAvailable bool
	ReleaseURL      string
	ReleaseNotes    string
	PublishedAt     time.Time
	IsPrerelease    bool
	CheckedAt       time.Time

	AssetName   string
	DownloadURL string
	ChecksumURL string

	InstallMethod InstallMethod
	StagedPath    string
}

// InstallMethod is how the running binary got onto the machine.
type InstallMethod int

const (
	InstallUnknown InstallMethod = iota
	// InstallHomebrew binaries are owned by brew and never replaced in place.
	InstallHomebrew
	InstallDirect
)

func (m InstallMethod) String() string {
	switch m {
	case InstallHomebrew:
		return "homebrew"
	case InstallDirect:
		return "direct"
	}
	return "unknown"
}

var (
	osAliases = map[string][]string{
		"darwin": {"macos", "osx"},
	}
	archAliases = map[string][]string{
		"amd64": {"x86_64", "x64"},
		"arm64": {"aarch64"},
	}
)

// buildAssetPatterns lists the substrings that mark an asset as built
// for goos/goarch, in either order and with either separator.
func buildAssetPatterns(goos, goarch string) []string {
	oses := append([]string{goos}, osAliases[goos]...)
	arches := append([]string{goarch}, archAliases[goarch]...)

	patterns := make([]string, 0, len(oses)*len(arches)*4)
	for _, o := range oses {
		for _, a := range arches {
			for _, sep := range []string{"_", "-"} {
				patterns = append(patterns, o+sep+a, a+sep+o)
			}
		}
	}
	return patterns
}

// findAsset returns the release asset for the running platform. The
// checksum file never matches.
func findAsset(assets []ReleaseAsset) (ReleaseAsset, bool) {
	patterns := buildAssetPatterns(runtime.GOOS, runtime.GOARCH)
	for _, asset := range assets {
		name := strings.ToLower(asset.Name)
		if name == checksumAssetName {
			continue
		}
		for _, p := range patterns {
			if strings.Contains(name, p) {
				return asset, true
			}
		}
	}
	return ReleaseAsset{}, false
}

func findNamedAsset(assets []ReleaseAsset, name string) (ReleaseAsset, bool) {
	for _, asset := range assets {
		if strings.EqualFold(asset.Name, name) {
			return asset, true
		}
	}
	return ReleaseAsset{}, false
}
