package pipeline

import (
	"sort"
	"strings"
)

// CandidateExtensions lists the file suffixes accepted as pages, matched
// against the lower-cased file name.
var CandidateExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".webp"}

func IsCandidate(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range CandidateExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SelectCandidates keeps the candidate names and returns them in page order:
// ascending byte-wise string order, independent of listing order.
func SelectCandidates(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if IsCandidate(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
