// Package guard switches binaries into test mode when imported by a test so
// running main never opens database, Redis or listener resources.
package guard

import (
	"os"
	"sync"
)

// TestModeEnv is the flag read by app.InTestMode.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	Enable()
}

// Enable sets the test mode flag unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(TestModeEnv) == "" {
			_ = os.Setenv(TestModeEnv, "1")
		}
	})
}
