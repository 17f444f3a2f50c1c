// Package fetch - platform.go provides platform detection and platform-specific selectors.
package fetch

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Platform represents a known job board platform.
type Platform string

const (
	// PlatformGreenhouse is the Greenhouse ATS platform
	PlatformGreenhouse Platform = "greenhouse"
	// PlatformLever is the Lever ATS platform
	PlatformLever Platform = "lever"
	// PlatformWorkday is the Workday ATS platform
	PlatformWorkday Platform = "workday"
	// PlatformUnknown is an unrecognized platform
	PlatformUnknown Platform = "unknown"
)

// platformDomains maps registrable domains to the platform hosted there.
var platformDomains = map[string]Platform{
	"greenhouse.io":     PlatformGreenhouse,
	"lever.co":          PlatformLever,
	"workday.com":       PlatformWorkday,
	"myworkdayjobs.com": PlatformWorkday,
}

// DetectPlatform identifies the job board platform from a URL.
func DetectPlatform(urlStr string) Platform {
	domain := SourceDomain(urlStr)
	if p, ok := platformDomains[domain]; ok {
		return p
	}
	return PlatformUnknown
}

// SourceDomain returns the registrable domain (eTLD+1) of urlStr, or the bare
// host when the public suffix list has no answer. Empty for unparsable input.
func SourceDomain(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// Selectors are the platform-specific selectors tried ahead of the generic
// extraction chains.
type Selectors struct {
	Title       []string
	Company     []string
	Description []string
	Apply       []string
}

// PlatformSelectors returns the extraction selectors for a platform.
func PlatformSelectors(platform Platform) Selectors {
	switch platform {
	case PlatformGreenhouse:
		return Selectors{
			Title:       []string{".app-title", ".job__title h1", "h1.section-header"},
			Company:     []string{".company-name", ".job__header .company"},
			Description: []string{".job__description.body", ".job__description", "#content", ".job-post-container"},
			Apply:       []string{"#apply_button", "a[href*='#app']", "button[aria-label*='Apply']"},
		}
	case PlatformLever:
		return Selectors{
			Title:       []string{".posting-headline h2"},
			Company:     []string{".main-header-logo img[alt]", ".main-footer-text a"},
			Description: []string{".posting-page .section-wrapper.page-full-width", ".posting-description", ".content"},
			Apply:       []string{"a.postings-btn", ".postings-btn-wrapper a"},
		}
	case PlatformWorkday:
		return Selectors{
			Title:       []string{"[data-automation-id='jobPostingHeader']"},
			Company:     []string{"[data-automation-id='company']"},
			Description: []string{"[data-automation-id='jobPostingDescription']", "[data-automation-id='jobDescription']"},
			Apply:       []string{"[data-automation-id='adventureButton']", "[data-automation-id='applyButton']"},
		}
	default:
		return Selectors{}
	}
}

// PlatformNoiseSelectors returns noise exclusion selectors for a specific platform.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		"#application-form",
		".application-form",
		"[data-testid='application-form']",
		".eeo-statement",
		".eeo-section",
		".self-identification",
		".social-share",
		".cookie-consent",
		".gdpr-notice",
	}

	switch platform {
	case PlatformGreenhouse:
		return append(common, ".application--wrapper", ".voluntary-self-id", "#usa_self_id_section")
	case PlatformLever:
		return append(common, ".apply-section", ".lever-application-form")
	case PlatformWorkday:
		return append(common, ".application-section")
	default:
		return common
	}
}
