package logs

import (
	"testing"
)

func init() {
	InitLogsToStderr("trace")
}

func TestLevels(t *testing.T) {
	Trace("trace")
	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	FlushLogs()
}

func TestInitLogsUnknownLevelDefaultsToInfo(t *testing.T) {
	if err := InitLogsToStderr("nonsense"); err != nil {
		t.Error(err.Error())
	}
	Info("still logs at info")
}
