package sevenzip

import "archiver/internal/archive"

// 7-Zip exit codes.
const (
	ExitSuccess     = 0
	ExitWarning     = 1
	ExitFatal       = 2
	ExitCommandLine = 7
	ExitOutOfMemory = 8
	ExitUserStopped = 255
)

var exitMeanings = map[int]string{
	ExitSuccess:     "success",
	ExitWarning:     "warning (non-fatal errors)",
	ExitFatal:       "fatal error",
	ExitCommandLine: "command line error",
	ExitOutOfMemory: "not enough memory for operation",
	ExitUserStopped: "user stopped the process",
}

// ExitMeaning describes a 7-Zip exit code.
func ExitMeaning(code int) string {
	if m, ok := exitMeanings[code]; ok {
		return m
	}
	return "unknown error"
}

// ClassifyExit maps an exit code to an error kind. Codes 0 and 1 return an
// empty kind; the caller decides whether a warning is acceptable.
func ClassifyExit(code int) archive.ErrorKind {
	switch code {
	case ExitSuccess, ExitWarning:
		return ""
	case ExitCommandLine:
		return archive.KindCommandLineError
	case ExitOutOfMemory:
		return archive.KindOutOfMemory
	case ExitUserStopped:
		return archive.KindCancelled
	default:
		return archive.KindSubprocessFatal
	}
}
