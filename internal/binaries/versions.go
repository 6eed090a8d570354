package binaries

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

// maxAvailable caps how many remote releases are listed.
const maxAvailable = 20

type VersionInfo struct {
	Version   string `json:"version"`
	IsLatest  bool   `json:"is_latest"`
	Label     string `json:"label,omitempty"`
	Installed bool   `json:"installed"`
}

// AvailableVersions lists versions that can be downloaded, newest first.
// GitHub-backed services query the release index (non-prerelease, newest
// 20); others use the catalog's static list.
func (m *Manager) AvailableVersions(ctx context.Context, service string) ([]VersionInfo, error) {
	fam, err := services.Lookup(serviceType(service))
	if err != nil {
		return nil, err
	}
	src, err := m.catalog.Source(fam.Type())
	if err != nil {
		return nil, err
	}

	var out []VersionInfo
	switch src.Strategy {
	case services.StrategyGitHub:
		versions, err := m.releaseVersions(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			out = append(out, VersionInfo{Version: v})
		}
	case services.StrategyHomebrew:
		v, err := m.brewStableVersion(ctx, src.Formula)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionInfo{Version: v, Label: "homebrew"})
	default:
		for _, e := range src.Versions {
			out = append(out, VersionInfo{Version: e.Version, Label: e.Label})
		}
		if len(out) == 0 && src.Strategy == services.StrategyVirtual {
			out = append(out, VersionInfo{Version: "latest"})
		}
	}

	installed, _ := m.InstalledVersions(service)
	have := make(map[string]bool, len(installed))
	for _, v := range installed {
		have[v] = true
	}
	for i := range out {
		out[i].IsLatest = i == 0
		out[i].Installed = have[out[i].Version]
	}
	return out, nil
}

// releaseVersions pages through the release index until maxAvailable
// stable releases have been collected.
func (m *Manager) releaseVersions(ctx context.Context, src services.Source) ([]string, error) {
	var versions []string
	for page := 1; page <= 5 && len(versions) < maxAvailable; page++ {
		url := fmt.Sprintf("%s/repos/%s/releases?per_page=50&page=%d", m.releasesAPI, src.Repo, page)
		body, err := m.getJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		releases := gjson.ParseBytes(body).Array()
		if len(releases) == 0 {
			break
		}
		for _, r := range releases {
			if r.Get("prerelease").Bool() || r.Get("draft").Bool() {
				continue
			}
			tag := r.Get("tag_name").String()
			if tag == "" {
				continue
			}
			versions = append(versions, strings.TrimPrefix(tag, src.TagPrefix))
			if len(versions) == maxAvailable {
				break
			}
		}
	}
	SortVersions(versions)
	return versions, nil
}

// releaseAssetURL finds the download url of this platform's asset in the
// release tagged {tag_prefix}{version}.
func (m *Manager) releaseAssetURL(ctx context.Context, src services.Source, version string) (string, error) {
	platform := services.Platform(m.goos, m.goarch)
	tmpl, ok := src.Assets[platform]
	if !ok {
		return "", fmt.Errorf("%w: no %s asset for %s", ErrUnsupported, src.Repo, platform)
	}
	asset := services.Expand(tmpl, version, m.goos, m.goarch)

	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s%s", m.releasesAPI, src.Repo, src.TagPrefix, version)
	body, err := m.getJSON(ctx, url)
	if err != nil {
		return "", err
	}

	var found string
	gjson.GetBytes(body, "assets").ForEach(func(_, a gjson.Result) bool {
		if a.Get("name").String() == asset {
			found = a.Get("browser_download_url").String()
			return false
		}
		return true
	})
	if found == "" {
		return "", fmt.Errorf("%w: asset %s in %s %s", ErrVersionUnresolved, asset, src.Repo, version)
	}
	return found, nil
}

func (m *Manager) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release index %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrVersionUnresolved, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release index %s: status %d", url, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("release index %s: invalid json", url)
	}
	return body, nil
}
