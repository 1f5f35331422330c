package config

import (
    "strings"

    "github.com/labstack/gommon/log"
)

// ParseLogLevel maps LOG_LEVEL to a gommon level.  Unknown values mean info.
func ParseLogLevel(s string) log.Lvl {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return log.DEBUG
    case "warn", "warning":
        return log.WARN
    case "error":
        return log.ERROR
    case "off", "none":
        return log.OFF
    }
    return log.INFO
}
