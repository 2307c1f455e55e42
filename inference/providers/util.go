package providers

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibraryEnv names the environment variable that overrides the
// onnxruntime shared library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibraryPath returns the onnxruntime shared library for the current
// platform. An explicit override wins, then SharedLibraryEnv, then the
// platform default under ./third_party.
//
// Arguments:
//   - override: Explicit path, may be empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: When the platform has no known default.
func SharedLibraryPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(SharedLibraryEnv); env != "" {
		return env, nil
	}
	return defaultSharedLibraryPath(runtime.GOOS, runtime.GOARCH)
}

func defaultSharedLibraryPath(goos, goarch string) (string, error) {
	dir := "third_party"
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return filepath.Join(dir, "onnxruntime.dll"), nil
		}
	case "darwin":
		if goarch == "arm64" || goarch == "amd64" {
			return filepath.Join(dir, "libonnxruntime.1.23.0.dylib"), nil
		}
	case "linux":
		if goarch == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.so"), nil
		}
		return filepath.Join(dir, "onnxruntime.so"), nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s", goos, goarch)
}

var (
	envMu    sync.Mutex
	envReady bool
	envPath  string
)

// InitializeEnvironment loads the shared library and initializes the
// onnxruntime environment. Once it succeeds, later calls with the same path
// are no-ops and calls with another path fail. A failed attempt leaves the
// environment uninitialized, so a later call may retry.
func InitializeEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envReady {
		if envPath != libPath {
			return errors.Errorf("onnxruntime already initialized from %s", envPath)
		}
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	envReady = true
	envPath = libPath
	return nil
}
