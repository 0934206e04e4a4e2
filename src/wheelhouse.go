package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/wheelhouse-io/wheelhouse/src/cache"
	"github.com/wheelhouse-io/wheelhouse/src/cli"
	"github.com/wheelhouse-io/wheelhouse/src/core"
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/pip"
	"github.com/wheelhouse-io/wheelhouse/src/resolve"
)

var log = logging.MustGetLogger("wheelhouse")

var opts = struct {
	Usage string

	Verbosity    cli.Verbosity `short:"v" long:"verbosity" description:"Verbosity of output (higher number = more output)" default:"warning"`
	LogFile      string        `long:"log_file" description:"File to echo full logging output to"`
	LogFileLevel cli.Verbosity `long:"log_file_level" description:"Log level for file output" default:"debug"`
	Root         string        `short:"r" long:"root" description:"Cache root directory. Defaults to the user cache dir." env:"WHEELHOUSE_ROOT"`
	Python       string        `long:"python" description:"Python interpreter to drive pip with" default:"python3"`
	PipArgs      string        `long:"pip_args" description:"Extra arguments to append to every pip invocation"`
	NumJobs      int           `short:"j" long:"jobs" description:"Maximum number of parallel jobs per stage (0 = CPU count)"`
	Algorithm    string        `long:"fingerprint_algorithm" description:"Digest algorithm for cache keys" default:"sha256" choice:"sha256" choice:"blake3"`

	Resolve struct {
		RequirementFiles []string `short:"R" long:"requirement_file" description:"requirements.txt style file(s) to resolve"`
		ConstraintFiles  []string `short:"c" long:"constraint_file" description:"Constraints file(s) to apply"`
		Index            []string `short:"i" long:"index" description:"Package index URL(s); first is primary"`
		FindLinks        []string `short:"f" long:"find_links" description:"Additional wheel/sdist repositories"`
		NoIndex          bool     `long:"no_index" description:"Disable all package index use"`
		Prereleases      bool     `long:"pre" description:"Allow pre-release versions"`
		NoTransitive     bool     `long:"no_deps" description:"Don't resolve transitive dependencies"`
		PreferBinary     bool     `long:"prefer_binary" description:"Prefer older wheels to newer sources"`
		IgnoreErrors     bool     `long:"ignore_errors" description:"Skip the final consistency check"`
		Args             struct {
			Requirements []string `positional-arg-name:"requirements" description:"Requirements to resolve"`
		} `positional-args:"true"`
	} `command:"resolve" description:"Resolves, builds and installs distributions for the given requirements"`

	Download struct {
		RequirementFiles []string `short:"R" long:"requirement_file" description:"requirements.txt style file(s) to resolve"`
		ConstraintFiles  []string `short:"c" long:"constraint_file" description:"Constraints file(s) to apply"`
		Index            []string `short:"i" long:"index" description:"Package index URL(s); first is primary"`
		FindLinks        []string `short:"f" long:"find_links" description:"Additional wheel/sdist repositories"`
		NoIndex          bool     `long:"no_index" description:"Disable all package index use"`
		Prereleases      bool     `long:"pre" description:"Allow pre-release versions"`
		NoTransitive     bool     `long:"no_deps" description:"Don't resolve transitive dependencies"`
		Dest             string   `short:"d" long:"dest" description:"Directory to download distributions into"`
		Args             struct {
			Requirements []string `positional-arg-name:"requirements" description:"Requirements to download"`
		} `positional-args:"true"`
	} `command:"download" description:"Downloads distributions for the given requirements without installing"`

	Version struct{} `command:"version" description:"Prints the version of the tool and exits"`

	Clean struct {
		HighWaterMark uint64 `long:"high_water_mark" description:"Size in bytes above which the cache gets trimmed" default:"10737418240"`
		LowWaterMark  uint64 `long:"low_water_mark" description:"Size in bytes to trim the cache down to" default:"8589934592"`
		All           bool   `long:"all" description:"Remove the entire cache tree"`
	} `command:"clean" description:"Trims or wipes the wheel caches"`
}{
	Usage: `
wheelhouse resolves, builds and installs Python distributions into per-wheel
chroots under a content-addressed cache, so that any subset of a resolve can
be activated independently and repeated resolves against the same inputs are free.
`,
}

var subCommands = map[string]func() int{
	"resolve": func() int {
		oracle := mustPip()
		installed, err := resolve.Resolve(context.Background(), oracle, resolve.Options{
			Root:                 opts.Root,
			Targets:              []*dist.Target{mustTarget(oracle)},
			Requirements:         opts.Resolve.Args.Requirements,
			RequirementFiles:     opts.Resolve.RequirementFiles,
			ConstraintFiles:      opts.Resolve.ConstraintFiles,
			AllowPrereleases:     opts.Resolve.Prereleases,
			Transitive:           !opts.Resolve.NoTransitive,
			Indexes:              opts.Resolve.Index,
			FindLinks:            opts.Resolve.FindLinks,
			NoIndex:              opts.Resolve.NoIndex,
			PreferBinary:         opts.Resolve.PreferBinary,
			MaxJobs:              opts.NumJobs,
			IgnoreErrors:         opts.Resolve.IgnoreErrors,
			FingerprintAlgorithm: opts.Algorithm,
		})
		if err != nil {
			log.Fatalf("Resolution failed: %s", err)
		}
		for _, d := range installed.Distributions {
			direct := ""
			if len(d.DirectRequirements) > 0 {
				reqs := make([]string, len(d.DirectRequirements))
				for i, req := range d.DirectRequirements {
					reqs[i] = req.String()
				}
				direct = " (direct: " + strings.Join(reqs, ", ") + ")"
			}
			fmt.Printf("%s %s %s%s\n", d.Metadata.Name, d.Metadata.Version, d.InstallChroot, direct)
		}
		return 0
	},
	"download": func() int {
		oracle := mustPip()
		downloaded, err := resolve.DownloadTo(context.Background(), oracle, resolve.Options{
			Root:                 opts.Root,
			Targets:              []*dist.Target{mustTarget(oracle)},
			Requirements:         opts.Download.Args.Requirements,
			RequirementFiles:     opts.Download.RequirementFiles,
			ConstraintFiles:      opts.Download.ConstraintFiles,
			AllowPrereleases:     opts.Download.Prereleases,
			Transitive:           !opts.Download.NoTransitive,
			Indexes:              opts.Download.Index,
			FindLinks:            opts.Download.FindLinks,
			NoIndex:              opts.Download.NoIndex,
			MaxJobs:              opts.NumJobs,
			FingerprintAlgorithm: opts.Algorithm,
		}, opts.Download.Dest)
		if err != nil {
			log.Fatalf("Download failed: %s", err)
		}
		for _, d := range downloaded.LocalDistributions {
			fmt.Printf("%s %s\n", d.Fingerprint, d.Path)
		}
		return 0
	},
	"version": func() int {
		fmt.Printf("wheelhouse version %s\n", core.WheelhouseVersion)
		return 0
	},
	"clean": func() int {
		root := opts.Root
		if root == "" {
			root = core.DefaultCacheRoot()
		}
		if opts.Clean.All {
			if err := os.RemoveAll(root); err != nil {
				log.Fatalf("Failed to clean cache: %s", err)
			}
			return 0
		}
		var g errgroup.Group
		// Built wheels live three levels down (kind/basename/fingerprint); installed
		// wheels are keyed at the top level.
		for _, c := range []struct {
			Dir   string
			Depth int
		}{{core.BuiltWheelsDir(root), 3}, {core.InstalledWheelsDir(root), 1}} {
			c := c
			g.Go(func() error {
				cache.Clean(c.Dir, c.Depth, opts.Clean.HighWaterMark, opts.Clean.LowWaterMark)
				return nil
			})
		}
		g.Wait()
		return 0
	},
}

func main() {
	command := cli.ParseFlagsOrDie("wheelhouse", &opts)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.Verbosity, opts.LogFileLevel, opts.LogFile)
	} else {
		cli.InitLogging(opts.Verbosity)
	}
	os.Exit(subCommands[command]())
}

func mustPip() *pip.Pip {
	p, err := pip.New(opts.Python, opts.PipArgs)
	if err != nil {
		log.Fatalf("%s", err)
	}
	return p
}

func mustTarget(oracle *pip.Pip) *dist.Target {
	target, err := oracle.Identify("local")
	if err != nil {
		log.Fatalf("%s", err)
	}
	return target
}
