// Package playlist reads M3U playlists into channel records.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"mattone/internal/models"
)

// FileUploadSource is recorded as the source of channels imported from an
// uploaded file rather than a URL.
const FileUploadSource = "file-upload"

const maxLineBytes = 1 << 20

var (
	tvgNameAttr    = regexp.MustCompile(`tvg-name="([^"]*)"`)
	tvgLogoAttr    = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	groupTitleAttr = regexp.MustCompile(`group-title="([^"]*)"`)
)

// Parse reads #EXTINF entries and the stream URL line following each one.
// Other directives and comments are skipped, as are URL lines with no
// preceding #EXTINF. Every channel is stamped with sourceURL.
func Parse(r io.Reader, sourceURL string) ([]models.Channel, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	channels := []models.Channel{}
	var cur *models.Channel
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			c := parseExtinf(line)
			c.SourceURL = sourceURL
			cur = &c
		case strings.HasPrefix(line, "#"):
		case cur != nil:
			cur.StreamURL = line
			channels = append(channels, *cur)
			cur = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	return channels, nil
}

func parseExtinf(line string) models.Channel {
	var c models.Channel
	if m := tvgNameAttr.FindStringSubmatch(line); m != nil {
		c.TvgName = m[1]
	}
	if m := tvgLogoAttr.FindStringSubmatch(line); m != nil {
		c.TvgLogo = m[1]
	}
	if m := groupTitleAttr.FindStringSubmatch(line); m != nil {
		c.GroupTitle = m[1]
	}
	// display name follows the last comma
	if c.TvgName == "" {
		if i := strings.LastIndexByte(line, ','); i >= 0 {
			c.TvgName = strings.TrimSpace(line[i+1:])
		}
	}
	return c
}
