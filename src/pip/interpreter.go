package pip

import (
	"fmt"
	"os"
	"strings"

	"github.com/wheelhouse-io/wheelhouse/src/dist"
)

// tagScript asks pip's own tag machinery what the interpreter supports, one
// compatibility triple per line, most specific first.
const tagScript = `
from pip._internal.utils.compatibility_tags import get_supported
print("\n".join("%s-%s-%s" % (t.interpreter, t.abi, t.platform) for t in get_supported()))
`

// Identify interrogates the interpreter for its supported wheel tags and
// returns a resolution target for it.
func (p *Pip) Identify(name string) (*dist.Target, error) {
	cmd, err := p.executor.Start("", os.Environ(), []string{p.python, "-c", tagScript})
	if err != nil {
		return nil, fmt.Errorf("cannot run %s: %w", p.python, err)
	}
	if err := cmd.Wait(); err != nil {
		if detail := AnalyzeErrors(cmd.Output()); detail != "" {
			return nil, fmt.Errorf("cannot identify %s: %s", p.python, detail)
		}
		return nil, fmt.Errorf("cannot identify %s: %w", p.python, err)
	}
	var supported []dist.Tags
	for _, line := range strings.Split(strings.TrimSpace(string(cmd.Output())), "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "-", 3)
		if len(parts) != 3 {
			continue
		}
		supported = append(supported, dist.Tags{Python: parts[0], Abi: parts[1], Platform: parts[2]})
	}
	if len(supported) == 0 {
		return nil, fmt.Errorf("interpreter %s reported no supported tags", p.python)
	}
	return &dist.Target{
		Name:      name,
		Python:    supported[0].Python,
		Abi:       supported[0].Abi,
		Platform:  supported[0].Platform,
		Supported: supported,
		Env:       map[string]string{},
	}, nil
}
