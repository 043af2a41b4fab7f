package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ANESTHMED_TEST_MODE") == "" {
			_ = os.Setenv("ANESTHMED_TEST_MODE", "1")
		}
	})
}
