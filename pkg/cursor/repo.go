package cursor

import (
	"strings"
)

// NormalizeRepository canonicalizes the three accepted repository input
// forms to https://github.com/<owner>/<repo>:
//
//	owner/repo            -> https://github.com/owner/repo
//	github.com/owner/repo -> https://github.com/owner/repo
//	http(s)://...         -> unchanged
func NormalizeRepository(repo string) string {
	repo = strings.TrimSpace(repo)
	switch {
	case repo == "":
		return ""
	case strings.HasPrefix(repo, "http"):
		return repo
	case strings.HasPrefix(repo, "github.com/"):
		return "https://" + repo
	default:
		return "https://github.com/" + repo
	}
}
