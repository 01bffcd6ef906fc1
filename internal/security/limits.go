// Package security gates outgoing user input: text and attachment
// validation plus the send rate limiter.
package security

import (
	"fmt"
	"strings"
)

// Limits configures input validation. Zero values are replaced by defaults
// via Normalize.
type Limits struct {
	MaxMessageRunes int
	MaxFiles        int
	MaxFileBytes    int64
	AllowedTypes    []string
}

// DefaultLimits mirrors the constraints the web client shipped with.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageRunes: 10000,
		MaxFiles:        5,
		MaxFileBytes:    10 * 1024 * 1024,
		AllowedTypes: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/webp",
			"image/svg+xml",
			"application/pdf",
			"text/plain",
			"text/csv",
			"application/json",
			"audio/mpeg",
			"audio/wav",
			"audio/ogg",
			"video/mp4",
			"video/webm",
		},
	}
}

// Normalize fills unset fields from the defaults.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	if l.MaxMessageRunes <= 0 {
		l.MaxMessageRunes = def.MaxMessageRunes
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = def.MaxFiles
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = def.MaxFileBytes
	}
	if len(l.AllowedTypes) == 0 {
		l.AllowedTypes = def.AllowedTypes
	}
	return l
}

// FileInfo is the validated view of one attachment candidate.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
}

// Result reports a validation outcome. Reason is set only when invalid.
type Result struct {
	Valid  bool
	Reason string
}

func ok() Result           { return Result{Valid: true} }
func fail(r string) Result { return Result{Reason: r} }

// ValidateText checks a candidate message body. Whitespace-only input that
// still looks non-empty is rejected, as is anything over the length cap.
func (l Limits) ValidateText(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && text != "" {
		return fail("message is empty")
	}
	if len([]rune(trimmed)) > l.MaxMessageRunes {
		return fail(fmt.Sprintf("message exceeds maximum length of %d characters", l.MaxMessageRunes))
	}
	return ok()
}

// ValidateAttachments checks count, per-item size and the media-type
// allow-list.
func (l Limits) ValidateAttachments(files []FileInfo) Result {
	if len(files) > l.MaxFiles {
		return fail(fmt.Sprintf("cannot upload more than %d files at once", l.MaxFiles))
	}
	for _, f := range files {
		if f.Size > l.MaxFileBytes {
			return fail(fmt.Sprintf("file %q exceeds maximum size of %dMB", f.Name, l.MaxFileBytes/(1024*1024)))
		}
		if !l.typeAllowed(f.MimeType) {
			return fail(fmt.Sprintf("file type %q is not allowed", f.MimeType))
		}
	}
	return ok()
}

func (l Limits) typeAllowed(mimeType string) bool {
	for _, allowed := range l.AllowedTypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

// SanitizeText escapes HTML-sensitive characters so stored text is safe to
// echo into markup verbatim.
func SanitizeText(text string) string {
	replacer := strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)
	return replacer.Replace(text)
}
