package domain_test

import (
	"testing"

	"liveline/testutil"
)

// The domain package is the dependency floor of the repository: storage
// backends and the service all import it, so it must not reach upward or out.
func TestDomainImportsNothingAboveStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"pkg/domain must not depend on internal packages")
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdPartyImportForbidden,
		"pkg/domain must stay stdlib-only")
}
