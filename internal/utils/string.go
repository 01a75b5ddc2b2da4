package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var fileSizeUnits = []string{"B", "kB", "MB", "GB", "TB"}

var spaceRun = regexp.MustCompile(`\s+`)

// maxFilenameBytes leaves room for the extension within common 255 byte limits.
const maxFilenameBytes = 200

// HumanFilesize formats a byte count with binary prefixes and two decimals,
// e.g. 2097152 -> "2.00 MB".
func HumanFilesize(size int64) string {
	if size <= 0 {
		return fmt.Sprintf("%.2f %s", 0.0, fileSizeUnits[0])
	}

	value := float64(size)
	i := 0
	for value >= 1024 && i < len(fileSizeUnits)-1 {
		value /= 1024
		i++
	}

	return fmt.Sprintf("%.2f %s", value, fileSizeUnits[i])
}

// Basename returns the last segment of a peer-local path. Peers report paths
// with either Windows (\) or Unix (/) separators.
func Basename(path string) string {
	lastSep := max(strings.LastIndex(path, "/"), strings.LastIndex(path, "\\"))
	return path[lastSep+1:]
}

// ParentDirname returns the name of the directory directly containing path,
// or "" when path has no directory component.
func ParentDirname(path string) string {
	lastSep := max(strings.LastIndex(path, "/"), strings.LastIndex(path, "\\"))
	if lastSep <= 0 {
		return ""
	}
	return Basename(path[:lastSep])
}

// SanitizeFilename makes user-supplied text safe to use as a single path
// component.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		"\x00", "",
	)
	sanitized := replacer.Replace(name)

	sanitized = strings.TrimSpace(sanitized)
	sanitized = spaceRun.ReplaceAllString(sanitized, " ")
	sanitized = strings.Trim(sanitized, ".")

	if len(sanitized) > maxFilenameBytes {
		cut := maxFilenameBytes
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = strings.TrimRight(sanitized[:cut], " .")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}
