// Package shared provides common utilities and test helpers used across the
// keydash codebase. It serves as a central location for shared functionality
// that doesn't belong to any specific domain or architectural layer.
//
// # Structure
//
// The package is organized into the following components:
//
// - testutil: Testing utilities including fixtures, log capture, and assertions
//
// # Usage Guidelines
//
// This package should only contain:
//
// 1. Test utilities used by multiple packages
// 2. Generic helper functions with no domain-specific logic
// 3. Common constants or types used across packages
//
// It should NOT contain:
//
// 1. Business logic or domain-specific code
// 2. External dependencies beyond standard library
// 3. Circular dependencies with other internal packages
//
// # Test Utilities
//
// The testutil subpackage provides:
//
//	- License record fixtures anchored at a fixed instant
//	- Canned backend payloads in both timestamp encodings
//	- A buffered slog handler with log assertions
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    fixtures := testutil.NewLicenseFixtures()
//
//	    // Use fixtures and assert on captured logs
//	    testutil.AssertNoErrors(t, logs)
//	}
//
// # Performance
//
// All utilities in this package are designed to have minimal overhead
// and should not impact production performance when used correctly.
package shared
