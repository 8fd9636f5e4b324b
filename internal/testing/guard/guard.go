// Package guard switches the process into test mode on import so binaries
// wired in tests skip their runtime start-up.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "LOTLEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
