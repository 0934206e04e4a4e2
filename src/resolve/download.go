package resolve

import (
	"context"
	"os"
	"path/filepath"

	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/fs"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
)

// A DownloadRequest describes one download resolution across a set of targets.
type DownloadRequest struct {
	Targets            []*dist.Target
	DirectRequirements []*dist.Requirement
	Spec               DownloadSpec
	MaxJobs            int
}

// LocalBuildRequests converts the local-project direct requirements into build
// requests against their filesystem paths, one per target. These bypass the
// oracle entirely; they are fingerprinted now so cache lookups can happen
// before any download job runs.
func (r *DownloadRequest) LocalBuildRequests(fingerprinter *fs.Fingerprinter) ([]*BuildRequest, error) {
	var requests []*BuildRequest
	for _, req := range r.DirectRequirements {
		if !req.IsLocal() {
			continue
		}
		for _, target := range r.Targets {
			request, err := NewBuildRequest(fingerprinter, target, req.LocalPath)
			if err != nil {
				return nil, err
			}
			requests = append(requests, request)
		}
	}
	return requests, nil
}

// DownloadDistributions runs one oracle download job per target, in parallel.
// Independent targets never block each other; a failure for one target is
// reported as Unsatisfiable but does not cancel the others' in-flight work.
func (r *DownloadRequest) DownloadDistributions(ctx context.Context, oracle Oracle, dest string) ([]*DownloadResult, error) {
	if len(r.Spec.Requirements) == 0 && len(r.Spec.RequirementFiles) == 0 {
		// Nothing to resolve.
		return nil, nil
	}
	log.Notice("Resolving for %d target(s)", len(r.Targets))
	return jobs.ExecuteParallel(ctx, r.Targets, func(target *dist.Target) (*jobs.Spawned[*DownloadResult], error) {
		downloadDir := filepath.Join(dest, target.ID())
		if err := os.MkdirAll(downloadDir, fs.DirPermissions); err != nil {
			return nil, err
		}
		log.Debug("Downloading distributions for %s into %s", target.ID(), downloadDir)
		job, err := oracle.SpawnDownload(downloadDir, target, &r.Spec)
		if err != nil {
			return nil, err
		}
		return jobs.Await(job, &DownloadResult{Target: target, DownloadDir: downloadDir}), nil
	}, AsUnsatisfiable, r.MaxJobs)
}

// A DownloadResult is one target's downloaded artifact directory.
type DownloadResult struct {
	Target      *dist.Target
	DownloadDir string
}

// BuildRequests returns a build request for every non-wheel artifact downloaded.
func (r *DownloadResult) BuildRequests(fingerprinter *fs.Fingerprinter) ([]*BuildRequest, error) {
	var requests []*BuildRequest
	err := r.iterArtifacts(func(path string) error {
		if dist.IsWheelPath(path) {
			return nil
		}
		request, err := NewBuildRequest(fingerprinter, r.Target, path)
		if err != nil {
			return err
		}
		requests = append(requests, request)
		return nil
	})
	return requests, err
}

// InstallRequests returns an install request for every wheel artifact downloaded.
func (r *DownloadResult) InstallRequests(fingerprinter *fs.Fingerprinter) ([]*InstallRequest, error) {
	var requests []*InstallRequest
	err := r.iterArtifacts(func(path string) error {
		if !dist.IsWheelPath(path) {
			return nil
		}
		request, err := NewInstallRequest(fingerprinter, r.Target, path)
		if err != nil {
			return err
		}
		requests = append(requests, request)
		return nil
	})
	return requests, err
}

func (r *DownloadResult) iterArtifacts(callback func(path string) error) error {
	entries, err := os.ReadDir(r.DownloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := callback(filepath.Join(r.DownloadDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
