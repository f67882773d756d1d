// Package testsupport holds helpers shared by the package tests: fixture
// loading, aggregate builders, a fixed clock and publisher stubs.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-shop-cache/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadShops reads a JSON array of shops, e.g. FixturePath("shops.json").
func LoadShops(t testing.TB, path string) []*domain.Shop {
	t.Helper()

	var shops []*domain.Shop
	LoadFixtureJSON(t, path, &shops)
	return shops
}

// TempFile writes content to a file under t.TempDir and returns its path.
// pattern follows os.CreateTemp, so "*.yaml" keeps the extension viper needs.
func TempFile(t testing.TB, pattern string, content []byte) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		t.Fatalf("failed to write to temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return f.Name()
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
