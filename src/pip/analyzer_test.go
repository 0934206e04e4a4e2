package pip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeErrors(t *testing.T) {
	output := `Collecting nonexistent-package
  Downloading https://pypi.org/simple/nonexistent-package/
ERROR: Could not find a version that satisfies the requirement nonexistent-package
ERROR: No matching distribution found for nonexistent-package
`
	assert.Equal(t, "Could not find a version that satisfies the requirement nonexistent-package\nNo matching distribution found for nonexistent-package", AnalyzeErrors([]byte(output)))
}

func TestAnalyzeErrorsContinuation(t *testing.T) {
	output := `ERROR: Cannot install requests==2.0 and requests==3.0 because these package versions have conflicting dependencies.
  The conflict is caused by:
    The user requested requests==2.0
Collecting something-else
`
	result := AnalyzeErrors([]byte(output))
	assert.Contains(t, result, "conflicting dependencies")
	assert.Contains(t, result, "The user requested requests==2.0")
	assert.NotContains(t, result, "Collecting")
}

func TestAnalyzeErrorsNoErrors(t *testing.T) {
	assert.Equal(t, "", AnalyzeErrors([]byte("Successfully downloaded requests\n")))
	assert.Equal(t, "", AnalyzeErrors(nil))
}
