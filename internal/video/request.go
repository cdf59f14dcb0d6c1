// Package video describes the requests the gateway relays to the video
// processing backend and the checks applied before relaying them.
package video

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultOutputLanguage = "English"

	maxStyleLength    = 50
	maxLanguageLength = 50
	maxURLLength      = 2048
)

// Styles accepted by the backend, in display order.
var Styles = []string{
	"Summary",
	"Educational",
	"Balanced",
	"QA Generation",
	"Narrative",
}

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?.*v=[\w-]+`),
	regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/embed/[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/v/[\w-]+`),
}

// ProcessRequest is the body of POST /api/v1/video/process.
type ProcessRequest struct {
	VideoURL       string   `json:"video_url"`
	Styles         []string `json:"styles,omitempty"`
	OutputLanguage string   `json:"output_language"`
}

// ValidationErrors maps a field name to its problems.
type ValidationErrors map[string][]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(v[field], "; "))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func (v ValidationErrors) add(field, message string) {
	v[field] = append(v[field], message)
}

// Normalize trims the fields, applies defaults and validates the result.
// It returns ValidationErrors when the request cannot be relayed.
func (r *ProcessRequest) Normalize() error {
	errs := ValidationErrors{}

	r.VideoURL = strings.TrimSpace(r.VideoURL)
	switch {
	case r.VideoURL == "":
		errs.add("video_url", "This field is required.")
	case len(r.VideoURL) > maxURLLength:
		errs.add("video_url", fmt.Sprintf("Ensure this field has no more than %d characters.", maxURLLength))
	case !isURL(r.VideoURL):
		errs.add("video_url", "Enter a valid URL.")
	case !IsYouTubeURL(r.VideoURL):
		errs.add("video_url", "Invalid YouTube URL. Please provide a valid YouTube video URL.")
	}

	for _, style := range r.Styles {
		if len(style) > maxStyleLength {
			errs.add("styles", fmt.Sprintf("Ensure each style has no more than %d characters.", maxStyleLength))
			break
		}
		if !IsStyle(style) {
			errs.add("styles", fmt.Sprintf("Invalid style '%s'. Valid styles are: %s", style, strings.Join(Styles, ", ")))
			break
		}
	}

	r.OutputLanguage = strings.TrimSpace(r.OutputLanguage)
	if r.OutputLanguage == "" {
		r.OutputLanguage = DefaultOutputLanguage
	}
	if len(r.OutputLanguage) > maxLanguageLength {
		errs.add("output_language", fmt.Sprintf("Ensure this field has no more than %d characters.", maxLanguageLength))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func IsYouTubeURL(raw string) bool {
	for _, pattern := range youtubePatterns {
		if pattern.MatchString(raw) {
			return true
		}
	}
	return false
}

func IsStyle(style string) bool {
	for _, s := range Styles {
		if s == style {
			return true
		}
	}
	return false
}

func isURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
