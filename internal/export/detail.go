package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/mutker/pdctl/internal/pd"
)

const (
	detailSep = " | "
	rawPrefix = "Raw: "
)

// PDODetail encodes entries as "PDO{n}: {summary} [{raw}]" joined by " | "
func PDODetail(entries []pd.PDOEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("PDO%d: %s [%s]", e.Position, e.Summary, e.RawHex))
	}

	return strings.Join(parts, detailSep)
}

// RDODetail encodes the raw value and position text of a request
func RDODetail(info *pd.RDOInfo) string {
	if info == nil {
		return ""
	}

	var parts []string
	if info.RawHex != "" {
		parts = append(parts, rawPrefix+info.RawHex)
	}
	if info.ObjectPosition != "" {
		parts = append(parts, info.ObjectPosition)
	}

	return strings.Join(parts, detailSep)
}

// pdoLabel matches the start of each encoded entry. Summaries may contain the
// separator themselves, so entries are split on labels rather than on " | ".
var pdoLabel = regexp.MustCompile(`(?:^| \| )PDO(\d+): `)

// parsePDODetail reverses PDODetail. Entries that do not match the encoding
// are ignored.
func parsePDODetail(detail string) []pd.PDOEntry {
	if detail == "" {
		return nil
	}

	matches := pdoLabel.FindAllStringSubmatchIndex(detail, -1)

	var entries []pd.PDOEntry
	for i, m := range matches {
		end := len(detail)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		rest := detail[m[1]:end]

		open := strings.LastIndex(rest, "[")
		closing := strings.LastIndex(rest, "]")
		if open < 0 || closing < open {
			continue
		}

		pos, err := strconv.Atoi(detail[m[2]:m[3]])
		if err != nil {
			continue
		}

		entries = append(entries, pd.PDOEntry{
			Position: pos,
			Summary:  strings.TrimSpace(rest[:open]),
			RawHex:   rest[open+1 : closing],
		})
	}

	return entries
}

func parseRDODetail(summary, detail string) *pd.RDOInfo {
	info := &pd.RDOInfo{Summary: summary}

	for _, part := range strings.Split(detail, detailSep) {
		switch {
		case strings.HasPrefix(part, rawPrefix):
			info.RawHex = strings.TrimPrefix(part, rawPrefix)
		case part != "":
			info.ObjectPosition = part
		}
	}

	return info
}
