package resolve

import (
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
)

// An Oracle performs the actual version selection, downloading, wheel building
// and wheel installation. The pipeline never interprets resolution semantics
// itself; it only sequences oracle jobs and post-processes their output
// directories. The production implementation shells out to pip (src/pip).
type Oracle interface {
	// SpawnDownload starts a download-only resolution of the given spec for one
	// target into downloadDir.
	SpawnDownload(downloadDir string, target *dist.Target, spec *DownloadSpec) (jobs.Job, error)
	// SpawnBuild starts building the source at sourcePath into exactly one wheel
	// written into wheelDir.
	SpawnBuild(sourcePath, wheelDir string, target *dist.Target) (jobs.Job, error)
	// SpawnInstall starts installing the given wheel into the chroot at installDir.
	SpawnInstall(wheelPath, installDir string, target *dist.Target) (jobs.Job, error)
}

// A DownloadSpec carries everything the oracle needs for one download resolution.
type DownloadSpec struct {
	// Requirements are requirement strings to resolve.
	Requirements []string
	// RequirementFiles are paths to requirements.txt style files.
	RequirementFiles []string
	// ConstraintFiles are paths to constraints files.
	ConstraintFiles []string
	// AllowPrereleases includes pre-release versions in resolution.
	AllowPrereleases bool
	// Transitive resolves dependencies of dependencies; false means only what was named.
	Transitive bool
	// Indexes are package index URLs to search; nil means the default index.
	Indexes []string
	// FindLinks are additional local or remote wheel/sdist repositories.
	FindLinks []string
	// NoIndex disables all index use, leaving only FindLinks.
	NoIndex bool
	// PreferBinary prefers older wheels to newer sources.
	PreferBinary bool
}
