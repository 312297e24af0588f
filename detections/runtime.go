package detections

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeInit bool
)

// DefaultSharedLibraryName is the platform file name of the ONNX Runtime
// shared library.
func DefaultSharedLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// initRuntime initializes the process-wide ONNX Runtime environment once.
// A failed attempt may be retried.
func initRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInit {
		return nil
	}
	if libPath == "" {
		libPath = DefaultSharedLibraryName()
	} else if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("onnxruntime library not found: %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ONNX environment: %w", err)
	}
	runtimeInit = true
	return nil
}

// destroyRuntime tears down the ONNX Runtime environment if it was created.
func destroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInit {
		return nil
	}
	runtimeInit = false
	return ort.DestroyEnvironment()
}
