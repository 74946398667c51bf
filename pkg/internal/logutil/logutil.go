// Package logutil provides the process-wide leveled logger. Output is
// plain text by default and JSON when enabled via SetJSON or the
// CONSENSUS_LOG_JSON / CONSENSUS_LOG_FORMAT environment variables.
package logutil

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const (
	levelDebug int32 = iota
	levelInfo
	levelWarn
	levelError
)

var (
	jsonMode atomic.Bool
	minLevel atomic.Int32
)

func init() {
	minLevel.Store(levelInfo)
	if os.Getenv("CONSENSUS_LOG_JSON") == "1" || os.Getenv("CONSENSUS_LOG_FORMAT") == "json" {
		jsonMode.Store(true)
	}
}

// SetJSON switches structured JSON output on or off.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// SetLevel sets the minimum emitted level. Unknown names fall back to
// info.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		minLevel.Store(levelDebug)
	case "warn":
		minLevel.Store(levelWarn)
	case "error":
		minLevel.Store(levelError)
	default:
		minLevel.Store(levelInfo)
	}
}

func Debugf(f string, args ...any) { logf(levelDebug, "debug", f, args...) }
func Infof(f string, args ...any)  { logf(levelInfo, "info", f, args...) }
func Warnf(f string, args ...any)  { logf(levelWarn, "warn", f, args...) }
func Errorf(f string, args ...any) { logf(levelError, "error", f, args...) }

func logf(lvl int32, name, f string, args ...any) {
	if lvl < minLevel.Load() {
		return
	}
	if jsonMode.Load() {
		evt := map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": name,
			"msg":   fmt.Sprintf(f, args...),
		}
		b, _ := json.Marshal(evt)
		log.Println(string(b))
		return
	}
	log.Printf(strings.ToUpper(name)+" "+f, args...)
}
