// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic detector used across test files:
// straight or curved muons are swum through barrel and endcap chambers and
// turned into segments with consistent hits, so fitter, builder and search
// tests share one geometry.
package testutil

import (
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertUsageConsistent fails the test if any segment in the store has a
// usage count that disagrees with its owner set.
func AssertUsageConsistent(t testing.TB, store interface{ CheckUsage() int }) {
	t.Helper()
	if bad := store.CheckUsage(); bad != 0 {
		t.Fatalf("%d segment records have inconsistent usage counts", bad)
	}
}
