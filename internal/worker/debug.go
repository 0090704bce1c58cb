package worker

import (
	"os"
	"strings"

	"github.com/EXCurryBar/mybot/internal/observability"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("MYBOT_WORKER_DEBUG"), "1")

func debugLog(msg string, args ...any) {
	if workerDebugEnabled {
		observability.Logger().Info(msg, args...)
	}
}
