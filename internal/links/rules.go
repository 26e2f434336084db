package links

import (
	"fmt"
	"slices"
	"strings"
)

const (
	https = "https://"
	web   = `https?://`
	rest  = `[^\s]*`
)

var (
	httpsOnly = []string{https}
	anyWeb    = []string{"http://", https}
)

func hosted(c Category, host string) Rule {
	return Rule{Category: c, Pattern: `https://` + host + `/` + rest, Schemes: httpsOnly}
}

// DefaultRules returns the link catalogue in priority order. When two rules
// can match at the same position the earlier one wins, so specific services
// come before their parent domains and GENERIC_URL is last.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryDocs, Pattern: `https://docs\.google\.com/document/d/[a-zA-Z0-9_-]+` + rest, Schemes: httpsOnly},
		{Category: CategorySheets, Pattern: `https://docs\.google\.com/spreadsheets/d/[a-zA-Z0-9_-]+` + rest, Schemes: httpsOnly},
		{Category: CategorySlides, Pattern: `https://docs\.google\.com/presentation/d/[a-zA-Z0-9_-]+` + rest, Schemes: httpsOnly},
		{Category: CategoryForms, Pattern: `https://docs\.google\.com/forms/d/[a-zA-Z0-9_-]+` + rest, Schemes: httpsOnly},
		hosted(CategoryDrive, `drive\.google\.com`),
		hosted(CategoryMeet, `meet\.google\.com`),
		hosted(CategoryCalendar, `calendar\.google\.com`),
		hosted(CategoryClassroom, `classroom\.google\.com`),
		hosted(CategoryGmail, `mail\.google\.com`),
		hosted(CategoryGoogle, `[a-zA-Z0-9.-]*\.google\.com`),

		hosted(CategoryGitHub, `(?:www\.)?github\.com`),
		hosted(CategoryGitLab, `(?:www\.)?gitlab\.com`),
		hosted(CategoryBitbucket, `(?:www\.)?bitbucket\.org`),
		hosted(CategoryStackOverflow, `(?:www\.)?stackoverflow\.com`),
		hosted(CategoryNPM, `(?:www\.)?npmjs\.com`),
		hosted(CategoryPyPI, `(?:www\.)?pypi\.org`),

		hosted(CategorySlack, `[a-zA-Z0-9.-]+\.slack\.com`),
		hosted(CategoryDiscord, `(?:www\.)?discord\.(?:gg|com)`),
		hosted(CategoryZoom, `[a-zA-Z0-9.-]*\.zoom\.us`),
		hosted(CategoryTeams, `teams\.microsoft\.com`),
		hosted(CategoryWebex, `[a-zA-Z0-9.-]*\.webex\.com`),

		hosted(CategoryDropbox, `(?:www\.)?dropbox\.com`),
		hosted(CategoryOneDrive, `[a-zA-Z0-9.-]*\.sharepoint\.com`),
		hosted(CategoryBox, `[a-zA-Z0-9.-]*\.box\.com`),
		hosted(CategoryICloud, `(?:www\.)?icloud\.com`),

		hosted(CategoryLinkedIn, `(?:www\.)?linkedin\.com`),
		hosted(CategoryTwitter, `(?:www\.)?(?:twitter|x)\.com`),
		hosted(CategoryFacebook, `(?:www\.)?facebook\.com`),
		hosted(CategoryInstagram, `(?:www\.)?instagram\.com`),
		hosted(CategoryYouTube, `(?:www\.)?(?:youtube\.com|youtu\.be)`),

		hosted(CategoryNotion, `(?:www\.)?notion\.so`),
		hosted(CategoryAtlassian, `[a-zA-Z0-9.-]*\.atlassian\.net`),

		{Category: CategoryFTP, Pattern: `ftp://` + rest, Schemes: []string{"ftp://"}},
		{Category: CategoryFilePath, Pattern: `file://` + rest, Schemes: []string{"file://"}},
		{Category: CategoryNetworkPath, Pattern: `\\\\[a-zA-Z0-9.-]+\\` + rest, Schemes: []string{`\\`}},
		{Category: CategoryIPAddress, Pattern: web + `(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?` + rest, Schemes: anyWeb},
		{Category: CategoryGenericURL, Pattern: web + `[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}` + rest, Schemes: anyWeb},
	}
}

// Categories lists every known category in priority order
func Categories() []Category {
	rules := DefaultRules()
	out := make([]Category, len(rules))
	for i, r := range rules {
		out[i] = r.Category
	}
	return out
}

// Priority returns the position of c in the catalogue, or -1 when unknown
func Priority(c Category) int {
	return slices.Index(Categories(), c)
}

// Select returns the catalogue rules for the named categories, keeping
// catalogue order. "all" enables every category; an empty list enables none.
func Select(names []string) ([]Rule, error) {
	rules := DefaultRules()
	enabled := make(map[Category]bool)

	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == "ALL" {
			for _, r := range rules {
				enabled[r.Category] = true
			}
			continue
		}

		found := false
		for _, r := range rules {
			if string(r.Category) == name {
				enabled[r.Category] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown link category: %s", name)
		}
	}

	selected := make([]Rule, 0, len(enabled))
	for _, r := range rules {
		if enabled[r.Category] {
			selected = append(selected, r)
		}
	}
	return selected, nil
}
