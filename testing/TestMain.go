package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CELLAR_TEST_MODE", "1")
		if os.Getenv("NFT_MINT_URL") == "" {
			_ = os.Setenv("NFT_MINT_URL", "http://127.0.0.1:0/mint")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
