package links

import (
	"fmt"
	"strings"
)

// Category identifies a family of links sharing one placeholder
type Category string

const (
	CategoryDocs          Category = "DOCS"
	CategorySheets        Category = "SHEETS"
	CategorySlides        Category = "SLIDES"
	CategoryForms         Category = "FORMS"
	CategoryDrive         Category = "DRIVE"
	CategoryMeet          Category = "MEET"
	CategoryCalendar      Category = "CALENDAR"
	CategoryClassroom     Category = "CLASSROOM"
	CategoryGmail         Category = "GMAIL"
	CategoryGoogle        Category = "GOOGLE"
	CategoryGitHub        Category = "GITHUB"
	CategoryGitLab        Category = "GITLAB"
	CategoryBitbucket     Category = "BITBUCKET"
	CategoryStackOverflow Category = "STACKOVERFLOW"
	CategoryNPM           Category = "NPM"
	CategoryPyPI          Category = "PYPI"
	CategorySlack         Category = "SLACK"
	CategoryDiscord       Category = "DISCORD"
	CategoryZoom          Category = "ZOOM"
	CategoryTeams         Category = "TEAMS"
	CategoryWebex         Category = "WEBEX"
	CategoryDropbox       Category = "DROPBOX"
	CategoryOneDrive      Category = "ONEDRIVE"
	CategoryBox           Category = "BOX"
	CategoryICloud        Category = "ICLOUD"
	CategoryLinkedIn      Category = "LINKEDIN"
	CategoryTwitter       Category = "TWITTER"
	CategoryFacebook      Category = "FACEBOOK"
	CategoryInstagram     Category = "INSTAGRAM"
	CategoryYouTube       Category = "YOUTUBE"
	CategoryNotion        Category = "NOTION"
	CategoryAtlassian     Category = "ATLASSIAN"
	CategoryFTP           Category = "FTP"
	CategoryFilePath      Category = "FILE_PATH"
	CategoryNetworkPath   Category = "NETWORK_PATH"
	CategoryIPAddress     Category = "IP_ADDRESS"
	CategoryGenericURL    Category = "GENERIC_URL"
)

// Mode controls how much a link placeholder reveals
type Mode string

const (
	// ModeDomainAware keeps the category in the placeholder, e.g. [GITHUB_LINK]
	ModeDomainAware Mode = "domain"
	// ModeFull collapses every category to [LINK]
	ModeFull Mode = "full"
)

// ParseMode converts a user supplied link mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "domain", "domain_aware", "domain-aware", "":
		return ModeDomainAware, nil
	case "full":
		return ModeFull, nil
	}
	return "", fmt.Errorf("invalid link mode '%s': must be 'domain' or 'full'", s)
}

// Rule matches one link category. Pattern is matched case-insensitively and
// anchored at the cursor; Schemes are the prefixes a match must start with.
type Rule struct {
	Category Category `json:"category"`
	Pattern  string   `json:"pattern"`
	Schemes  []string `json:"schemes"`
}

var bareTags = map[Category]string{
	CategoryFilePath:    "[FILE_PATH]",
	CategoryNetworkPath: "[NETWORK_PATH]",
	CategoryIPAddress:   "[IP_ADDRESS]",
	CategoryGenericURL:  "[URL]",
}

// Placeholder returns the replacement emitted for a link of category c
func Placeholder(c Category, mode Mode) string {
	if mode == ModeFull {
		return "[LINK]"
	}
	if tag, ok := bareTags[c]; ok {
		return tag
	}
	return "[" + string(c) + "_LINK]"
}
