// Package resolve implements the distribution resolution, build and
// installation pipeline.
//
// A resolve happens in two phases: a download phase that runs one oracle
// resolution per target, and an install phase that builds any source-form
// artifacts into wheels and installs each distinct wheel into its own chroot.
// Distributions are installed separately (rather than into one prefix) because
// a resolve may span several targets and only a subset of the installed set
// applies to any one of them at activation time.
//
// Everything is cached on disk under a shared root; the atomic-directory
// discipline in src/cache makes that tree safe for concurrent invocations
// without any lock files.
package resolve

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
	"gopkg.in/op/go-logging.v1"

	"github.com/wheelhouse-io/wheelhouse/src/core"
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/fs"
)

var log = logging.MustGetLogger("resolve")

// Options configures a Resolve or Download call.
type Options struct {
	// Root is the cache root directory; empty means the default.
	Root string
	// Targets are the execution environments to resolve for.
	Targets []*dist.Target
	// Requirements are requirement strings (registry names or local paths).
	Requirements []string
	// RequirementFiles and ConstraintFiles are passed through to the oracle.
	RequirementFiles []string
	ConstraintFiles  []string
	// AllowPrereleases, Transitive, Indexes, FindLinks, NoIndex and PreferBinary
	// configure the oracle's resolution; see DownloadSpec.
	AllowPrereleases bool
	Transitive       bool
	Indexes          []string
	FindLinks        []string
	NoIndex          bool
	PreferBinary     bool
	// MaxJobs bounds parallelism in every stage; <= 0 means the CPU count.
	MaxJobs int
	// IgnoreErrors suppresses the final consistency check.
	IgnoreErrors bool
	// FingerprintAlgorithm selects the cache digest algorithm; empty means sha256.
	FingerprintAlgorithm string
}

func (o *Options) root() string {
	if o.Root != "" {
		return o.Root
	}
	return core.DefaultCacheRoot()
}

func (o *Options) fingerprinter() (*fs.Fingerprinter, error) {
	algo := o.FingerprintAlgorithm
	if algo == "" {
		algo = "sha256"
	}
	return fs.NewFingerprinter(algo, o.root())
}

// An Installed is the immutable result of a Resolve call.
type Installed struct {
	// Distributions is the full installed set, ordered by content identity.
	Distributions []*InstalledDistribution
}

// A LocalDistribution is one downloaded (but not installed) artifact on the
// local filesystem, along with its content fingerprint.
type LocalDistribution struct {
	Target      *dist.Target
	Path        string
	Fingerprint digest.Digest
}

// IsWheel returns true if this distribution is already in wheel form.
func (d *LocalDistribution) IsWheel() bool {
	return dist.IsWheelPath(d.Path)
}

// A Downloaded is the immutable result of a Download call.
type Downloaded struct {
	LocalDistributions []*LocalDistribution
}

// Resolve determines, fetches, builds and installs all distributions needed to
// meet the given requirements for every target, returning the installed set.
// It either returns a complete, consistent result or an error of kind
// Unsatisfiable / Untranslatable / IntegrityError / plain I/O failure.
func Resolve(ctx context.Context, oracle Oracle, opts Options) (*Installed, error) {
	fingerprinter, err := opts.fingerprinter()
	if err != nil {
		return nil, err
	}
	direct, err := dist.ParseRequirements(opts.Requirements)
	if err != nil {
		return nil, err
	}
	buildRequests, downloadResults, err := downloadInternal(ctx, oracle, fingerprinter, direct, &opts, "")
	if err != nil {
		return nil, err
	}
	var installRequests []*InstallRequest
	for _, result := range downloadResults {
		builds, err := result.BuildRequests(fingerprinter)
		if err != nil {
			return nil, err
		}
		buildRequests = append(buildRequests, builds...)
		installs, err := result.InstallRequests(fingerprinter)
		if err != nil {
			return nil, err
		}
		installRequests = append(installRequests, installs...)
	}
	builder := NewWheelBuilder(oracle, fingerprinter, opts.root(), opts.MaxJobs)
	request := NewBuildAndInstallRequest(builder, fingerprinter, opts.root(), opts.MaxJobs, buildRequests, installRequests, direct)
	// A non-transitive resolve is inherently inconsistent, so skip the check too.
	ignoreErrors := opts.IgnoreErrors || !opts.Transitive
	distributions, err := request.InstallDistributions(ctx, ignoreErrors)
	if err != nil {
		return nil, err
	}
	return &Installed{Distributions: distributions}, nil
}

// Download fetches (but does not build or install) all distributions needed to
// meet the given requirements for every target.
func Download(ctx context.Context, oracle Oracle, opts Options) (*Downloaded, error) {
	return DownloadTo(ctx, oracle, opts, "")
}

// DownloadTo is like Download but places artifacts under the given directory
// instead of the cache's download area.
func DownloadTo(ctx context.Context, oracle Oracle, opts Options, dest string) (*Downloaded, error) {
	fingerprinter, err := opts.fingerprinter()
	if err != nil {
		return nil, err
	}
	direct, err := dist.ParseRequirements(opts.Requirements)
	if err != nil {
		return nil, err
	}
	buildRequests, downloadResults, err := downloadInternal(ctx, oracle, fingerprinter, direct, &opts, dest)
	if err != nil {
		return nil, err
	}
	downloaded := &Downloaded{}
	for _, request := range buildRequests {
		path := request.SourcePath
		if dest != "" && fs.FileExists(path) {
			// File-form local sources are copied in so that dest is self-contained;
			// local project directories stay where they are.
			copied := filepath.Join(dest, filepath.Base(path))
			if err := fs.CopyFile(path, copied, 0); err != nil {
				return nil, err
			}
			path = copied
		}
		downloaded.LocalDistributions = append(downloaded.LocalDistributions, &LocalDistribution{
			Target:      request.Target,
			Path:        path,
			Fingerprint: request.Fingerprint,
		})
	}
	for _, result := range downloadResults {
		builds, err := result.BuildRequests(fingerprinter)
		if err != nil {
			return nil, err
		}
		for _, request := range builds {
			downloaded.LocalDistributions = append(downloaded.LocalDistributions, &LocalDistribution{
				Target:      request.Target,
				Path:        request.SourcePath,
				Fingerprint: request.Fingerprint,
			})
		}
		installs, err := result.InstallRequests(fingerprinter)
		if err != nil {
			return nil, err
		}
		for _, request := range installs {
			downloaded.LocalDistributions = append(downloaded.LocalDistributions, &LocalDistribution{
				Target:      request.Target,
				Path:        request.WheelPath,
				Fingerprint: request.Fingerprint,
			})
		}
	}
	sort.Slice(downloaded.LocalDistributions, func(i, j int) bool {
		a, b := downloaded.LocalDistributions[i], downloaded.LocalDistributions[j]
		if a.Fingerprint != b.Fingerprint {
			return a.Fingerprint < b.Fingerprint
		}
		return a.Path < b.Path
	})
	return downloaded, nil
}

// downloadInternal runs the download phase: local-project build requests are
// peeled off first (they never touch the oracle) then each target's resolution
// runs as one parallel oracle job.
func downloadInternal(ctx context.Context, oracle Oracle, fingerprinter *fs.Fingerprinter, direct []*dist.Requirement, opts *Options, dest string) ([]*BuildRequest, []*DownloadResult, error) {
	request := &DownloadRequest{
		Targets:            uniqueTargets(opts.Targets),
		DirectRequirements: direct,
		Spec: DownloadSpec{
			Requirements:     registryRequirements(direct),
			RequirementFiles: opts.RequirementFiles,
			ConstraintFiles:  opts.ConstraintFiles,
			AllowPrereleases: opts.AllowPrereleases,
			Transitive:       opts.Transitive,
			Indexes:          opts.Indexes,
			FindLinks:        opts.FindLinks,
			NoIndex:          opts.NoIndex,
			PreferBinary:     opts.PreferBinary,
		},
		MaxJobs: opts.MaxJobs,
	}
	localBuilds, err := request.LocalBuildRequests(fingerprinter)
	if err != nil {
		return nil, nil, err
	}
	if dest == "" {
		dest = core.DownloadsDir(opts.root())
	}
	if err := os.MkdirAll(dest, fs.DirPermissions); err != nil {
		return nil, nil, err
	}
	results, err := request.DownloadDistributions(ctx, oracle, dest)
	if err != nil {
		return nil, nil, err
	}
	return localBuilds, results, nil
}

// registryRequirements filters out local-project requirements; those are built
// directly from their paths and must not be passed to the oracle.
func registryRequirements(reqs []*dist.Requirement) []string {
	var out []string
	for _, req := range reqs {
		if !req.IsLocal() {
			out = append(out, req.String())
		}
	}
	return out
}

// uniqueTargets drops targets that share a tag triple with an earlier one.
func uniqueTargets(targets []*dist.Target) []*dist.Target {
	var out []*dist.Target
	for _, target := range targets {
		duplicate := false
		for _, existing := range out {
			if existing.Equivalent(target) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, target)
		}
	}
	return out
}
