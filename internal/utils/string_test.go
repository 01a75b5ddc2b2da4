package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestHumanFilesize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0.00 B"},
		{512, "512.00 B"},
		{1024, "1.00 kB"},
		{1536, "1.50 kB"},
		{2097152, "2.00 MB"},
		{8912345, "8.50 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.00 TB"},
		{4096 * 1024 * 1024 * 1024 * 1024, "4096.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanFilesize(tt.size))
		})
	}
}

func TestBasename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{`@@music\Daft Punk\Discovery\Daft Punk - One More Time.mp3`, "Daft Punk - One More Time.mp3"},
		{"/home/user/music/track.mp3", "track.mp3"},
		{`mixed/dir\file.mp3`, "file.mp3"},
		{"track.mp3", "track.mp3"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Basename(tt.path))
		})
	}
}

func TestParentDirname(t *testing.T) {
	assert.Equal(t, "Discovery", ParentDirname(`@@music\Daft Punk\Discovery\01 - One More Time.mp3`))
	assert.Equal(t, "album", ParentDirname("/music/album/track.mp3"))
	assert.Equal(t, "", ParentDirname("track.mp3"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain query kept", "daft punk - one more time", "daft punk - one more time"},
		{"separators replaced", "AC/DC - Back In Black", "AC-DC - Back In Black"},
		{"traversal neutralised", "../../etc/passwd", "-..-etc-passwd"},
		{"whitespace collapsed", "  a   b  ", "a b"},
		{"empty falls back", "  ", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameTruncatesOnRuneBoundary(t *testing.T) {
	got := SanitizeFilename("a" + strings.Repeat("é", 150))

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxFilenameBytes)
	assert.Equal(t, "a"+strings.Repeat("é", 99), got)

	got = SanitizeFilename(strings.Repeat("x", 250))
	assert.Equal(t, strings.Repeat("x", maxFilenameBytes), got)
}
