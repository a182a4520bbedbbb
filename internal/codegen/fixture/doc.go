// Package fixture holds Go serializers generated from the protocol set in
// fixture_test.go. Regenerate point.go and sample.go when the Go backend
// changes; the tests fail until they match.
package fixture
