package layout

import "github.com/hashicorp/go-hclog"

// logBuildError reports a construction failure through logger at Warn
// level. A nil logger means discard silently, so callers that never opt in
// pay nothing.
func logBuildError(logger hclog.Logger, context string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn("layout build failed", "context", context, "error", err)
}
