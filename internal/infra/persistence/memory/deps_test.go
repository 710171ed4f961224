package memory

import (
	"testing"

	"refereecore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.OnlyModulePackages("refereecore/pkg/domain"),
		"the memory engine may depend only on the domain contract")
}
