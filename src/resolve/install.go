package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"

	"github.com/wheelhouse-io/wheelhouse/src/cache"
	"github.com/wheelhouse-io/wheelhouse/src/core"
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/fs"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
)

// An InstallRequest says that a wheel must be installed into an isolated chroot.
// Its cache identity is the content fingerprint of the wheel file alone; the
// same wheel requested by several targets is installed once.
type InstallRequest struct {
	Target      *dist.Target
	WheelPath   string
	Fingerprint digest.Digest
}

// NewInstallRequest creates an InstallRequest, fingerprinting the wheel immediately.
func NewInstallRequest(fingerprinter *fs.Fingerprinter, target *dist.Target, wheelPath string) (*InstallRequest, error) {
	fingerprint, err := fingerprinter.Fingerprint(wheelPath)
	if err != nil {
		return nil, err
	}
	return &InstallRequest{Target: target, WheelPath: wheelPath, Fingerprint: fingerprint}, nil
}

// InstallRequestFromLocal creates an InstallRequest from a previously discovered
// local distribution, verifying any fingerprint it declared against fresh content.
func InstallRequestFromLocal(fingerprinter *fs.Fingerprinter, local *LocalDistribution) (*InstallRequest, error) {
	request, err := NewInstallRequest(fingerprinter, local.Target, local.Path)
	if err != nil {
		return nil, err
	}
	if local.Fingerprint != "" && local.Fingerprint != request.Fingerprint {
		return nil, &IntegrityError{Path: local.Path, Expected: local.Fingerprint, Actual: request.Fingerprint}
	}
	return request, nil
}

// WheelFile returns the bare filename of the wheel.
func (r *InstallRequest) WheelFile() string {
	return filepath.Base(r.WheelPath)
}

// Result locates this request's cache slot under the given installed-wheels root.
func (r *InstallRequest) Result(installRoot string) *InstallResult {
	chroot := filepath.Join(installRoot, r.Fingerprint.Encoded(), r.WheelFile())
	return &InstallResult{
		Request:     r,
		installRoot: installRoot,
		atomicDir:   cache.NewAtomicDir(chroot),
	}
}

// An InstallResult wraps an InstallRequest with a handle to its install cache slot.
type InstallResult struct {
	Request     *InstallRequest
	installRoot string
	atomicDir   *cache.AtomicDir
}

// IsInstalled returns true if the install chroot already exists.
func (r *InstallResult) IsInstalled() bool {
	return r.atomicDir.IsFinalized()
}

// BuildChroot returns the private scratch directory an install job should populate.
func (r *InstallResult) BuildChroot() (string, error) {
	return r.atomicDir.WorkDir()
}

// InstallChroot returns the canonical installed chroot directory.
func (r *InstallResult) InstallChroot() string {
	return r.atomicDir.TargetDir()
}

// FinalizeInstall promotes a completed install into the cache and yields one
// InstalledDistribution per requester attached to this wheel.
//
// The chroot is keyed by the hash of the wheel file we installed. Here we add a
// second key by the hash of the exploded chroot contents: a runtime that finds
// an already-exploded copy of the same wheel can follow that key straight to
// this chroot instead of exploding it again. The symlink is relative so the
// cache root can be re-rooted (e.g. bind-mounted into a container) without
// breaking it.
func (r *InstallResult) FinalizeInstall(fingerprinter *fs.Fingerprinter, requesters []*InstallRequest) ([]*InstalledDistribution, error) {
	if err := r.atomicDir.Finalize(); err != nil {
		return nil, err
	}
	chrootFingerprint, err := fingerprinter.Fingerprint(r.InstallChroot())
	if err != nil {
		return nil, err
	}
	runtimeKeyDir := filepath.Join(r.installRoot, chrootFingerprint.Encoded())
	err = cache.With(runtimeKeyDir, func(workDir string) error {
		linkPath := filepath.Join(workDir, r.Request.WheelFile())
		relTarget, err := filepath.Rel(filepath.Dir(linkPath), r.InstallChroot())
		if err != nil {
			return err
		}
		return os.Symlink(relTarget, linkPath)
	})
	if err != nil {
		return nil, err
	}
	metadata, err := dist.ReadChrootMetadata(r.InstallChroot())
	if err != nil {
		return nil, err
	}
	installed := make([]*InstalledDistribution, 0, len(requesters))
	for _, requester := range requesters {
		installed = append(installed, &InstalledDistribution{
			Target:        requester.Target,
			Metadata:      metadata,
			Fingerprint:   chrootFingerprint,
			InstallChroot: r.InstallChroot(),
		})
	}
	return installed, nil
}

// An InstalledDistribution is a distribution installed into a chroot for a target,
// along with the user-facing requirements it directly satisfies (empty for purely
// transitive dependencies). Identity for dedup purposes is the chroot fingerprint;
// the target is contextual and the chroot path is display-only alongside it.
type InstalledDistribution struct {
	Target             *dist.Target
	Metadata           *dist.Metadata
	Fingerprint        digest.Digest
	InstallChroot      string
	DirectRequirements []*dist.Requirement
}

// A BuildAndInstallRequest runs the build and install stages over an initial set
// of build and install requests, closing over file-local dependency edges.
type BuildAndInstallRequest struct {
	builder            *WheelBuilder
	fingerprinter      *fs.Fingerprinter
	root               string
	maxJobs            int
	buildRequests      []*BuildRequest
	installRequests    []*InstallRequest
	directRequirements []*dist.Requirement
}

// NewBuildAndInstallRequest assembles the install stage inputs.
func NewBuildAndInstallRequest(builder *WheelBuilder, fingerprinter *fs.Fingerprinter, root string, maxJobs int,
	buildRequests []*BuildRequest, installRequests []*InstallRequest, directRequirements []*dist.Requirement) *BuildAndInstallRequest {
	return &BuildAndInstallRequest{
		builder:            builder,
		fingerprinter:      fingerprinter,
		root:               root,
		maxJobs:            maxJobs,
		buildRequests:      buildRequests,
		installRequests:    installRequests,
		directRequirements: directRequirements,
	}
}

// InstallDistributions builds all pending sources, installs every distinct wheel
// exactly once and returns the full installed set. Unless ignoreErrors is set,
// the final set is checked for global consistency and every violated dependency
// edge is reported together in one error.
func (b *BuildAndInstallRequest) InstallDistributions(ctx context.Context, ignoreErrors bool) ([]*InstalledDistribution, error) {
	if len(b.buildRequests) == 0 && len(b.installRequests) == 0 {
		// Nothing to build or install.
		return nil, nil
	}
	installRoot := core.InstalledWheelsDir(b.root)
	if err := os.MkdirAll(installRoot, fs.DirPermissions); err != nil {
		return nil, err
	}

	// 1. Build local projects and sdists.
	buildResults, err := b.builder.BuildWheels(ctx, b.buildRequests)
	if err != nil {
		return nil, err
	}
	toInstall := append([]*InstallRequest{}, b.installRequests...)
	for _, requests := range buildResults {
		toInstall = append(toInstall, requests...)
	}

	// 2. Close over file-local dependency edges. The download stage leaves
	// direct file references where they lay on the filesystem, so wheels can
	// depend on artifacts nothing has fetched; we discover and resolve those here.
	allInstallRequests, err := b.resolveDirectFileDeps(ctx, toInstall)
	if err != nil {
		return nil, err
	}

	// 3. All requirements are now in wheel form: pin local-project direct
	// requirements from the wheel that was actually built for their path.
	directByName, err := b.directRequirementsByName(buildResults)
	if err != nil {
		return nil, err
	}

	// 4. Install each distinct wheel in its own chroot. Dedup by wheel file name:
	// a universal wheel downloaded for three targets is installed once, with
	// every requester attached to the one result.
	requestersByWheelFile := map[string][]*InstallRequest{}
	var wheelFiles []string
	for _, request := range allInstallRequests {
		if _, present := requestersByWheelFile[request.WheelFile()]; !present {
			wheelFiles = append(wheelFiles, request.WheelFile())
		}
		requestersByWheelFile[request.WheelFile()] = append(requestersByWheelFile[request.WheelFile()], request)
	}

	var installations []*InstalledDistribution
	addInstallation := func(result *InstallResult) error {
		installed, err := result.FinalizeInstall(b.fingerprinter, requestersByWheelFile[result.Request.WheelFile()])
		if err != nil {
			return err
		}
		installations = append(installations, installed...)
		return nil
	}

	var uninstalled []*InstallRequest
	for _, wheelFile := range wheelFiles {
		request := requestersByWheelFile[wheelFile][0]
		result := request.Result(installRoot)
		if result.IsInstalled() {
			log.Debug("Using cached installation of %s at %s", request.WheelFile(), result.InstallChroot())
			if err := addInstallation(result); err != nil {
				return nil, err
			}
		} else {
			log.Info("Installing %s in %s", request.WheelPath, result.InstallChroot())
			uninstalled = append(uninstalled, request)
		}
	}
	installResults, err := jobs.ExecuteParallel(ctx, uninstalled, func(request *InstallRequest) (*jobs.Spawned[*InstallResult], error) {
		result := request.Result(installRoot)
		buildChroot, err := result.BuildChroot()
		if err != nil {
			return nil, err
		}
		job, err := b.builder.oracle.SpawnInstall(request.WheelPath, buildChroot, request.Target)
		if err != nil {
			return nil, err
		}
		return jobs.Await(job, result), nil
	}, AsUntranslatable, b.maxJobs)
	if err != nil {
		return nil, err
	}
	for _, result := range installResults {
		if err := addInstallation(result); err != nil {
			return nil, err
		}
	}

	if !ignoreErrors {
		if err := checkInstall(installations); err != nil {
			return nil, err
		}
	}

	// Attach direct requirements and put the result in a deterministic order.
	for _, installation := range installations {
		for _, req := range directByName[installation.Metadata.NormalizedName()] {
			if dist.Satisfies(installation.Metadata.Version, req.Specifier) && installation.Target.RequirementApplies(req) {
				installation.DirectRequirements = append(installation.DirectRequirements, req)
			}
		}
	}
	sortInstallations(installations)
	return installations, nil
}

// resolveDirectFileDeps walks the to-be-installed wheels' declared dependencies
// looking for direct file references, resolving each off the local filesystem,
// then repeats on anything newly discovered. An explicit worklist with a
// visited-name set makes the termination condition (no new names) a plain loop test.
func (b *BuildAndInstallRequest) resolveDirectFileDeps(ctx context.Context, requests []*InstallRequest) ([]*InstallRequest, error) {
	analyzed := map[string]bool{}
	all := append([]*InstallRequest{}, requests...)
	queue := requests
	for len(queue) > 0 {
		var toBuild []*BuildRequest
		var discovered []*InstallRequest
		for _, request := range queue {
			metadata, err := dist.ReadWheelMetadata(request.WheelPath)
			if err != nil {
				return nil, err
			}
			for _, req := range metadata.Requires {
				if analyzed[req.NormalizedName()] {
					continue
				}
				path := req.FileURLPath()
				if path == "" {
					continue
				}
				if !fs.PathExists(path) {
					return nil, Unsatisfiablef(
						"the %s wheel has a dependency on %s which does not exist on this machine",
						request.WheelFile(), req.URL)
				}
				if dist.IsWheelPath(path) {
					install, err := NewInstallRequest(b.fingerprinter, request.Target, path)
					if err != nil {
						return nil, err
					}
					discovered = append(discovered, install)
				} else {
					build, err := NewBuildRequest(b.fingerprinter, request.Target, path)
					if err != nil {
						return nil, err
					}
					toBuild = append(toBuild, build)
				}
			}
			analyzed[metadata.NormalizedName()] = true
		}
		if len(toBuild) > 0 {
			buildResults, err := b.builder.BuildWheels(ctx, toBuild)
			if err != nil {
				return nil, err
			}
			for _, installs := range buildResults {
				discovered = append(discovered, installs...)
			}
		}
		queue = nil
		for _, request := range discovered {
			if !containsInstallRequest(all, request) {
				all = append(all, request)
				queue = append(queue, request)
			}
		}
	}
	return all, nil
}

// directRequirementsByName maps normalized project names to the direct
// requirements that pin them. Local-project requirements have no name until
// built, so they are resolved through the wheel their path actually produced.
func (b *BuildAndInstallRequest) directRequirementsByName(buildResults map[string][]*InstallRequest) (map[string][]*dist.Requirement, error) {
	byName := map[string][]*dist.Requirement{}
	for _, req := range b.directRequirements {
		if !req.IsLocal() {
			byName[req.NormalizedName()] = append(byName[req.NormalizedName()], req)
			continue
		}
		installs := buildResults[req.LocalPath]
		if len(installs) == 0 {
			return nil, fmt.Errorf("failed to compute a project name for %s: no corresponding wheel was built", req)
		}
		for _, install := range installs {
			info, err := dist.ParseWheelFilename(install.WheelPath)
			if err != nil {
				return nil, err
			}
			pinned := req.Pinned(info.Distribution, info.Version)
			byName[pinned.NormalizedName()] = append(byName[pinned.NormalizedName()], pinned)
		}
	}
	return byName, nil
}

// checkInstall verifies that every target-applicable dependency of every installed
// distribution is satisfied by some other installed distribution. All violations
// are collected and reported together, never just the first.
func checkInstall(installations []*InstalledDistribution) error {
	installedByName := map[string]*InstalledDistribution{}
	ordered := make([]*InstalledDistribution, 0, len(installations))
	for _, installation := range installations {
		name := installation.Metadata.NormalizedName()
		if _, present := installedByName[name]; !present {
			installedByName[name] = installation
			ordered = append(ordered, installation)
		}
	}
	var unsatisfied []string
	for _, installation := range ordered {
		for _, req := range installation.Metadata.Requires {
			if req.URL != "" {
				// Direct references were resolved (and existence-checked) during
				// the file-local closure; there is no version constraint to check.
				continue
			}
			if !installation.Target.RequirementApplies(req) {
				continue
			}
			dependency, present := installedByName[req.NormalizedName()]
			if !present {
				unsatisfied = append(unsatisfied, fmt.Sprintf(
					"%s==%s requires %s but no version was resolved",
					installation.Metadata.Name, installation.Metadata.Version, req))
			} else if !dist.Satisfies(dependency.Metadata.Version, req.Specifier) {
				unsatisfied = append(unsatisfied, fmt.Sprintf(
					"%s==%s requires %s but %s %s was resolved",
					installation.Metadata.Name, installation.Metadata.Version, req,
					dependency.Metadata.Name, dependency.Metadata.Version))
			}
		}
	}
	if len(unsatisfied) > 0 {
		errs := &multierror.Error{ErrorFormat: consistencyErrorFormat}
		for _, failure := range unsatisfied {
			errs = multierror.Append(errs, errors.New(failure))
		}
		return AsUnsatisfiable(errs)
	}
	return nil
}

// consistencyErrorFormat renders the aggregated consistency failures as a numbered list.
func consistencyErrorFormat(errs []error) string {
	s := fmt.Sprintf("failed to resolve compatible distributions: %d failure(s)", len(errs))
	for i, err := range errs {
		s += fmt.Sprintf("\n%d: %s", i+1, err)
	}
	return s
}

func containsInstallRequest(requests []*InstallRequest, request *InstallRequest) bool {
	for _, existing := range requests {
		if existing.WheelPath == request.WheelPath && existing.Target.Equivalent(request.Target) {
			return true
		}
	}
	return false
}

// sortInstallations puts installations into a deterministic order by content
// identity, not submission order.
func sortInstallations(installations []*InstalledDistribution) {
	sort.Slice(installations, func(i, j int) bool {
		a, b := installations[i], installations[j]
		if a.Metadata.NormalizedName() != b.Metadata.NormalizedName() {
			return a.Metadata.NormalizedName() < b.Metadata.NormalizedName()
		}
		if a.Metadata.Version != b.Metadata.Version {
			return a.Metadata.Version < b.Metadata.Version
		}
		return a.Fingerprint < b.Fingerprint
	})
}
