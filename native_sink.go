//go:build darwin || linux

package transcode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

// DefaultNativeLogLib is the library OpenNativeLogSink looks for when no path is given.
const DefaultNativeLogLib = "transcode_log"

// DefaultNativeLogSymbol is the conventional name of the host log function.
const DefaultNativeLogSymbol = "log_msg"

// NativeLogSink forwards log messages to a C function
// `void fn(const char *msg, size_t len)`.
type NativeLogSink struct {
	mu     sync.Mutex
	handle uintptr
	fn     func(msg *byte, length uintptr)
}

// OpenNativeLogSink loads libPath (searched for when empty) and binds symbol.
// Call Close to unload the library.
func OpenNativeLogSink(libPath, symbol string) (*NativeLogSink, error) {
	if symbol == "" {
		symbol = DefaultNativeLogSymbol
	}

	paths := []string{libPath}
	if libPath == "" {
		paths = nativeLogLibPaths()
	}

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
		if err != nil {
			lastErr = err
			continue
		}

		sym, err := purego.Dlsym(handle, symbol)
		if err != nil {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("symbol %s not found in %s: %w", symbol, path, err)
		}

		s := newNativeLogSink(sym)
		s.handle = handle
		return s, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed to load %s: %w", sharedLibName(DefaultNativeLogLib), lastErr)
	}
	return nil, errors.New("log library not found in any standard location")
}

// newNativeLogSink binds the C function at fnPtr.
func newNativeLogSink(fnPtr uintptr) *NativeLogSink {
	s := &NativeLogSink{}
	purego.RegisterFunc(&s.fn, fnPtr)
	return s
}

// LogMessage implements LogSink.
func (s *NativeLogSink) LogMessage(msg string, length int) {
	length = max(0, min(length, len(msg)))
	buf := cString(msg[:length])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn == nil {
		return
	}
	s.fn(&buf[0], uintptr(length))
	runtime.KeepAlive(buf)
}

// Close unbinds the function and unloads the library.
func (s *NativeLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fn = nil
	if s.handle == 0 {
		return nil
	}
	err := purego.Dlclose(s.handle)
	s.handle = 0
	return err
}

func nativeLogLibPaths() []string {
	var paths []string
	libName := sharedLibName(DefaultNativeLogLib)

	// Environment variable override (highest priority)
	if envPath := os.Getenv("TRANSCODE_LOG_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to source and module root (works in IDE/tests)
	if root := findSourceRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}
