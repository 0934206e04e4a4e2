package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wheelhouse-io/wheelhouse/src/cache"
	"github.com/wheelhouse-io/wheelhouse/src/core"
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/fs"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
)

// A BuildRequest says that a source (sdist archive or local project directory)
// must become a wheel for a target. Its cache identity is (source fingerprint,
// target tag triple).
type BuildRequest struct {
	Target      *dist.Target
	SourcePath  string
	Fingerprint digest.Digest
}

// NewBuildRequest creates a BuildRequest, fingerprinting the source immediately.
func NewBuildRequest(fingerprinter *fs.Fingerprinter, target *dist.Target, sourcePath string) (*BuildRequest, error) {
	fingerprint, err := fingerprinter.Fingerprint(sourcePath)
	if err != nil {
		return nil, err
	}
	return &BuildRequest{Target: target, SourcePath: sourcePath, Fingerprint: fingerprint}, nil
}

// BuildRequestFromLocal creates a BuildRequest from a previously discovered local
// distribution, verifying any fingerprint it declared against fresh content.
func BuildRequestFromLocal(fingerprinter *fs.Fingerprinter, local *LocalDistribution) (*BuildRequest, error) {
	request, err := NewBuildRequest(fingerprinter, local.Target, local.Path)
	if err != nil {
		return nil, err
	}
	if local.Fingerprint != "" && local.Fingerprint != request.Fingerprint {
		return nil, &IntegrityError{Path: local.Path, Expected: local.Fingerprint, Actual: request.Fingerprint}
	}
	return request, nil
}

// SourceKind distinguishes the two cache subtrees for built wheels.
func (r *BuildRequest) SourceKind() string {
	if fs.IsDirectory(r.SourcePath) {
		return "local_projects"
	}
	return "sdists"
}

func (r *BuildRequest) String() string {
	return fmt.Sprintf("%s for %s", r.SourcePath, r.Target.ID())
}

// Result locates this request's cache slot under the given built-wheels root.
func (r *BuildRequest) Result(distRoot string) *BuildResult {
	// The product of a wheel build is unique up to the interpreter's full tag
	// triple; assuming any less (e.g. abi only) breaks down for containers with
	// shared storage mounts and for macOS deployment-target shenanigans, so we
	// key pessimistically on all three tags.
	distDir := filepath.Join(
		distRoot,
		r.SourceKind(),
		filepath.Base(r.SourcePath),
		r.Fingerprint.Encoded(),
		r.Target.TagTriple().String(),
	)
	return &BuildResult{Request: r, atomicDir: cache.NewAtomicDir(distDir)}
}

// A BuildResult wraps a BuildRequest with a handle to its cache slot.
type BuildResult struct {
	Request   *BuildRequest
	atomicDir *cache.AtomicDir
}

// IsBuilt returns true if the cached wheel already exists.
func (r *BuildResult) IsBuilt() bool {
	return r.atomicDir.IsFinalized()
}

// BuildDir returns the private scratch directory a build job should write into.
func (r *BuildResult) BuildDir() (string, error) {
	return r.atomicDir.WorkDir()
}

// DistDir returns the canonical cache directory holding the built wheel.
func (r *BuildResult) DistDir() string {
	return r.atomicDir.TargetDir()
}

// FinalizeBuild promotes a completed build into the cache and validates it:
// exactly one wheel must have been produced, and for a foreign target its tags
// must be compatible with the target's supported set.
func (r *BuildResult) FinalizeBuild(fingerprinter *fs.Fingerprinter) (*InstallRequest, error) {
	if err := r.atomicDir.Finalize(); err != nil {
		return nil, err
	}
	wheels, err := filepath.Glob(filepath.Join(r.DistDir(), "*.whl"))
	if err != nil {
		return nil, err
	}
	if len(wheels) != 1 {
		return nil, &IntegrityError{Message: fmt.Sprintf(
			"build of %s produced %d artifacts; expected 1:\n%s",
			r.Request, len(wheels), strings.Join(wheels, "\n"))}
	}
	wheelPath := wheels[0]
	if r.Request.Target.Foreign {
		info, err := dist.ParseWheelFilename(wheelPath)
		if err != nil {
			return nil, err
		}
		if !r.Request.Target.Compatible(info.Tags) {
			return nil, Untranslatablef(
				"no pre-built wheel was available for %s %s; successfully built %s from %s but it is "+
					"not compatible with the requested foreign target %s. You'll need to build a wheel "+
					"from %s on the foreign target platform and make it available via a find-links repo "+
					"or a custom index",
				info.Distribution, info.Version, filepath.Base(wheelPath),
				filepath.Base(r.Request.SourcePath), r.Request.Target.ID(),
				filepath.Base(r.Request.SourcePath))
		}
	}
	return NewInstallRequest(fingerprinter, r.Request.Target, wheelPath)
}

// A WheelBuilder converts sources into cached wheels through the oracle.
type WheelBuilder struct {
	oracle        Oracle
	fingerprinter *fs.Fingerprinter
	root          string
	maxJobs       int
}

// NewWheelBuilder returns a WheelBuilder writing into the given cache root.
func NewWheelBuilder(oracle Oracle, fingerprinter *fs.Fingerprinter, root string, maxJobs int) *WheelBuilder {
	return &WheelBuilder{oracle: oracle, fingerprinter: fingerprinter, root: root, maxJobs: maxJobs}
}

// BuildWheels builds all the given requests, reusing cached results where they
// exist, and groups the resulting install requests by original source path.
// Several targets may build the same source independently, so one source path
// can map to several wheels.
func (b *WheelBuilder) BuildWheels(ctx context.Context, requests []*BuildRequest) (map[string][]*InstallRequest, error) {
	if len(requests) == 0 {
		// Nothing to build.
		return map[string][]*InstallRequest{}, nil
	}
	distRoot := core.BuiltWheelsDir(b.root)
	if err := os.MkdirAll(distRoot, fs.DirPermissions); err != nil {
		return nil, err
	}
	results := map[string][]*InstallRequest{}
	unsatisfied := make([]*BuildRequest, 0, len(requests))
	for _, request := range requests {
		result := request.Result(distRoot)
		if result.IsBuilt() {
			log.Debug("Using cached build of %s at %s", request.SourcePath, result.DistDir())
			install, err := result.FinalizeBuild(b.fingerprinter)
			if err != nil {
				return nil, err
			}
			results[request.SourcePath] = appendUniqueInstall(results[request.SourcePath], install)
		} else {
			log.Info("Building %s to %s", request.SourcePath, result.DistDir())
			unsatisfied = append(unsatisfied, request)
		}
	}
	built, err := jobs.ExecuteParallel(ctx, unsatisfied, func(request *BuildRequest) (*jobs.Spawned[*BuildResult], error) {
		result := request.Result(distRoot)
		buildDir, err := result.BuildDir()
		if err != nil {
			return nil, err
		}
		job, err := b.oracle.SpawnBuild(request.SourcePath, buildDir, request.Target)
		if err != nil {
			return nil, err
		}
		return jobs.Await(job, result), nil
	}, AsUntranslatable, b.maxJobs)
	if err != nil {
		return nil, err
	}
	for _, result := range built {
		install, err := result.FinalizeBuild(b.fingerprinter)
		if err != nil {
			return nil, err
		}
		results[result.Request.SourcePath] = appendUniqueInstall(results[result.Request.SourcePath], install)
	}
	return results, nil
}

// appendUniqueInstall appends an install request unless an identical one is already present.
func appendUniqueInstall(requests []*InstallRequest, request *InstallRequest) []*InstallRequest {
	for _, existing := range requests {
		if existing.WheelPath == request.WheelPath && existing.Target.Equivalent(request.Target) {
			return requests
		}
	}
	return append(requests, request)
}
