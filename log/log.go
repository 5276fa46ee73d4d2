package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/contentsquare/webfetch/config"
)

var (
	stdLogFlags      = log.LstdFlags | log.LUTC
	stdDebugLogFlags = log.LstdFlags | log.Lshortfile | log.LUTC
	outputCallDepth  = 2
	replacer         atomic.Value

	DebugLogger = log.New(os.Stderr, "DEBUG: ", stdDebugLogFlags)
	InfoLogger  = log.New(os.Stderr, "INFO: ", stdLogFlags)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", stdLogFlags)
	FatalLogger = log.New(os.Stderr, "FATAL: ", log.LstdFlags|log.Llongfile|log.LUTC)
)

type regexReplacer struct {
	regex       *regexp.Regexp
	replacement string
}

// InitReplacer compiles log masks. Every log line is passed through all of
// them in order.
func InitReplacer(logMasks []config.LogMask) error {
	replacers := make([]regexReplacer, 0, len(logMasks))
	for _, logMask := range logMasks {
		re, err := regexp.Compile(logMask.Regex)
		if err != nil {
			return fmt.Errorf("error compiling regex %s: %w", logMask.Regex, err)
		}
		replacers = append(replacers, regexReplacer{
			regex:       re,
			replacement: logMask.Replacement,
		})
	}
	replacer.Store(replacers)
	return nil
}

func mask(s string) string {
	replacers, _ := replacer.Load().([]regexReplacer)
	for _, r := range replacers {
		s = r.regex.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Suppresses all output from logs if `suppress` is true
// used while testing
func SuppressOutput(suppress bool) {
	if suppress {
		DebugLogger.SetOutput(io.Discard)
		InfoLogger.SetOutput(io.Discard)
		ErrorLogger.SetOutput(io.Discard)
	} else {
		DebugLogger.SetOutput(os.Stderr)
		InfoLogger.SetOutput(os.Stderr)
		ErrorLogger.SetOutput(os.Stderr)
	}
}

var debug uint32

func SetDebug(val bool) {
	if val {
		atomic.StoreUint32(&debug, 1)
		InfoLogger.SetFlags(stdDebugLogFlags)
		ErrorLogger.SetFlags(stdDebugLogFlags)
	} else {
		atomic.StoreUint32(&debug, 0)
		InfoLogger.SetFlags(stdLogFlags)
		ErrorLogger.SetFlags(stdLogFlags)
	}
}

func Debugf(format string, args ...interface{}) {
	if atomic.LoadUint32(&debug) == 0 {
		return
	}

	s := mask(fmt.Sprintf(format, args...))
	DebugLogger.Output(outputCallDepth, s) // nolint
}

func Infof(format string, args ...interface{}) {
	s := mask(fmt.Sprintf(format, args...))
	InfoLogger.Output(outputCallDepth, s) // nolint
}

func Errorf(format string, args ...interface{}) {
	s := mask(fmt.Sprintf(format, args...))
	ErrorLogger.Output(outputCallDepth, s) // nolint
}

func Fatalf(format string, args ...interface{}) {
	s := mask(fmt.Sprintf(format, args...))
	FatalLogger.Output(outputCallDepth, s) // nolint
	os.Exit(1)
}
