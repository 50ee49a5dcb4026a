package environment

import "sync"

// HostSupport describes what isolation the host can provide.
type HostSupport struct {
	UserNamespaces bool
	Reason         string
}

var (
	detectOnce   sync.Once
	detectResult HostSupport
)

// DetectHost detects namespace support once per process.
func DetectHost() HostSupport {
	detectOnce.Do(func() {
		detectResult = detectHost()
	})
	return detectResult
}
