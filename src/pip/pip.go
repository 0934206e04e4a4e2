// Package pip adapts pip subprocesses to the resolution oracle interface.
//
// The pipeline deliberately owns none of pip's resolution semantics; this
// package just renders pip command lines, spawns them through src/process and
// scrapes their logs for useful error detail on failure.
package pip

import (
	"fmt"
	"os"

	"github.com/google/shlex"
	"gopkg.in/op/go-logging.v1"

	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
	"github.com/wheelhouse-io/wheelhouse/src/process"
	"github.com/wheelhouse-io/wheelhouse/src/resolve"
)

var log = logging.MustGetLogger("pip")

// A Pip spawns pip download / wheel / install subprocesses.
type Pip struct {
	python    string
	extraArgs []string
	executor  *process.Executor
}

// New returns a Pip driving the given python interpreter.
// extraArgs is a shell-quoted string of additional arguments appended to every
// pip invocation (e.g. proxy or cert settings).
func New(python string, extraArgs string) (*Pip, error) {
	args, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("cannot parse extra pip args %q: %w", extraArgs, err)
	}
	return &Pip{
		python:    python,
		extraArgs: args,
		executor:  process.New(),
	}, nil
}

// SpawnDownload implements resolve.Oracle.
func (p *Pip) SpawnDownload(downloadDir string, target *dist.Target, spec *resolve.DownloadSpec) (jobs.Job, error) {
	argv := []string{p.python, "-m", "pip", "download", "--dest", downloadDir}
	if !spec.Transitive {
		argv = append(argv, "--no-deps")
	}
	if spec.AllowPrereleases {
		argv = append(argv, "--pre")
	}
	if spec.PreferBinary {
		argv = append(argv, "--prefer-binary")
	}
	if target.Foreign {
		// A foreign target can only accept prebuilt wheels from the index;
		// pip requires these flags together with --only-binary.
		argv = append(argv,
			"--only-binary", ":all:",
			"--implementation", implementationOf(target.Python),
			"--abi", target.Abi,
			"--platform", target.Platform,
		)
	}
	argv = append(argv, indexArgs(spec)...)
	for _, file := range spec.RequirementFiles {
		argv = append(argv, "--requirement", file)
	}
	for _, file := range spec.ConstraintFiles {
		argv = append(argv, "--constraint", file)
	}
	argv = append(argv, p.extraArgs...)
	argv = append(argv, spec.Requirements...)
	return p.spawn(argv)
}

// SpawnBuild implements resolve.Oracle.
func (p *Pip) SpawnBuild(sourcePath, wheelDir string, target *dist.Target) (jobs.Job, error) {
	argv := []string{p.python, "-m", "pip", "wheel", "--no-deps", "--wheel-dir", wheelDir}
	argv = append(argv, p.extraArgs...)
	argv = append(argv, sourcePath)
	return p.spawn(argv)
}

// SpawnInstall implements resolve.Oracle.
func (p *Pip) SpawnInstall(wheelPath, installDir string, target *dist.Target) (jobs.Job, error) {
	argv := []string{p.python, "-m", "pip", "install", "--no-deps", "--no-compile", "--prefix", installDir, wheelPath}
	argv = append(argv, p.extraArgs...)
	return p.spawn(argv)
}

func (p *Pip) spawn(argv []string) (jobs.Job, error) {
	cmd, err := p.executor.Start("", os.Environ(), argv)
	if err != nil {
		return nil, err
	}
	return &pipJob{cmd: cmd, argv: argv}, nil
}

// indexArgs renders package index configuration to pip flags.
func indexArgs(spec *resolve.DownloadSpec) []string {
	var argv []string
	if spec.NoIndex {
		argv = append(argv, "--no-index")
	} else {
		for i, index := range spec.Indexes {
			if i == 0 {
				argv = append(argv, "--index-url", index)
			} else {
				argv = append(argv, "--extra-index-url", index)
			}
		}
	}
	for _, links := range spec.FindLinks {
		argv = append(argv, "--find-links", links)
	}
	return argv
}

// implementationOf extracts the implementation code from a python tag, e.g. cp39 -> cp.
func implementationOf(pythonTag string) string {
	for i, r := range pythonTag {
		if r >= '0' && r <= '9' {
			return pythonTag[:i]
		}
	}
	return pythonTag
}

// A pipJob awaits a pip subprocess, turning a nonzero exit into an error
// carrying whatever diagnostic detail the log analyzer could scrape.
type pipJob struct {
	cmd  *process.Command
	argv []string
}

// Wait implements jobs.Job.
func (j *pipJob) Wait() error {
	if err := j.cmd.Wait(); err != nil {
		detail := AnalyzeErrors(j.cmd.Output())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("pip %s failed: %s", j.argv[3], detail)
	}
	log.Debug("pip %s completed", j.argv[3])
	return nil
}
