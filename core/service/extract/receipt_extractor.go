// Package extract pulls receipt fields out of Meta billing mail bodies.
//
// Two strategies run in order: a line scan over the plain-text preview,
// then a tag-stripped scan over the HTML body. Identifiers found in the
// preview are never overwritten by the HTML pass; amount, payment
// instrument and reference code always come from the HTML pass.
package extract

import (
	"html"
	"regexp"
	"strings"

	"receipt_server/core/domain"
)

// =============================================================================
// Patterns
// =============================================================================

var (
	// parenthesized run of 10+ digits, e.g. "Meraki-T2219 (1255380388827210)"
	externalRefRe = regexp.MustCompile(`\((\d{10,})\)`)

	// amount patterns, tried in priority order; group 1 is the numeric part
	amountRes = []*regexp.Regexp{
		regexp.MustCompile(`\$([\d,]+\.?\d*)\s*USD`), // $76.00 USD
		regexp.MustCompile(`([\d,]+\.?\d*)\s*US\$`),  // 1,87 US$
		regexp.MustCompile(`([\d,]+\.?\d*)\s*USD`),   // 1,87 USD
		regexp.MustCompile(`\$([\d,]+\.?\d*)`),       // $76.00
	}

	instrumentBrandRe  = regexp.MustCompile(`(?i)(Visa|Mastercard|American Express|Amex|Discover)`)
	instrumentSuffixRe = regexp.MustCompile(`·\s*(\d+)`)

	// date shapes that must never be mistaken for a transaction identifier
	viDateRe = regexp.MustCompile(`\d{1,2}:\d{2}\s+\d{1,2}\s+tháng\s+\d{1,2}`)
	enDateRe = regexp.MustCompile(`\d{1,2}\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{4}`)

	referenceCodeRe = regexp.MustCompile(`^[a-zA-Z0-9]{10}$`)
)

// Receipt mails arrive in English and Vietnamese; both marker sets are
// scanned on every message.
var (
	accountMarkers     = []string{"Transaction for", "Receipt for", "Biên lai của", "Giao dịch của"}
	transactionMarkers = []string{"Transaction ID", "ID giao dịch"}
	referenceMarker    = "Reference number"
)

type ReceiptExtractor struct{}

func NewReceiptExtractor() *ReceiptExtractor {
	return &ReceiptExtractor{}
}

// Extract runs both strategies and merges their results. It never fails;
// a body yielding nothing produces an empty candidate for the classifier
// to deal with.
func (e *ReceiptExtractor) Extract(bodyHTML, bodyPreview string) *domain.Candidate {
	candidate := &domain.Candidate{}

	e.extractFromPreview(candidate, bodyPreview)
	e.extractFromHTML(candidate, bodyHTML)

	return candidate
}

// =============================================================================
// Preview strategy
// =============================================================================

// extractFromPreview scans the plain-text preview line by line. The value
// for a marker sits on the line after it.
func (e *ReceiptExtractor) extractFromPreview(candidate *domain.Candidate, bodyPreview string) {
	if bodyPreview == "" {
		return
	}

	var lines []string
	for _, raw := range strings.Split(bodyPreview, "\n") {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}

	for i, line := range lines {
		if containsAny(line, accountMarkers) {
			if i+1 < len(lines) {
				if m := externalRefRe.FindStringSubmatch(lines[i+1]); m != nil {
					candidate.ExternalAccountRef = m[1]
				}
			}
			continue
		}

		if containsAny(line, transactionMarkers) {
			if i+1 < len(lines) {
				value := lines[i+1]
				if strings.Contains(value, "-") && !isDateLike(value) {
					candidate.TransactionID = value
				}
			}
		}
	}
}

// =============================================================================
// HTML strategy
// =============================================================================

// extractFromHTML scans the tag-stripped text segments of the HTML body.
// Identifiers already found in the preview are kept; amount, instrument
// and reference code are always taken from here.
func (e *ReceiptExtractor) extractFromHTML(candidate *domain.Candidate, bodyHTML string) {
	if bodyHTML == "" {
		return
	}

	segments := segmentHTML(bodyHTML)

	// Amount is matched against the whole text since its label and value
	// may land in separate segments.
	fullText := strings.Join(segments, " ")
	for _, re := range amountRes {
		if m := re.FindStringSubmatch(fullText); m != nil {
			candidate.Amount = strings.ReplaceAll(m[1], ",", "")
			break
		}
	}

	for i, text := range segments {
		switch {
		case strings.Contains(text, referenceMarker):
			// The mail carries a reference section; record an empty code
			// when the value segment is missing or unreadable so the
			// classifier can tell "looked and found nothing" apart from
			// "never looked".
			if candidate.ReferenceCode == nil {
				code := ""
				if i+1 < len(segments) && referenceCodeRe.MatchString(segments[i+1]) {
					code = segments[i+1]
				}
				candidate.ReferenceCode = &code
			}

		case strings.Contains(text, "·") && containsDigit(text):
			if m := instrumentBrandRe.FindStringSubmatch(text); m != nil {
				candidate.InstrumentBrand = m[1]
			}
			if m := instrumentSuffixRe.FindStringSubmatch(text); m != nil {
				candidate.InstrumentSuffix = m[1]
			}

		case len(text) > 20 && strings.Contains(text, "(") && strings.Contains(text, ")"):
			if candidate.ExternalAccountRef == "" {
				if m := externalRefRe.FindStringSubmatch(text); m != nil {
					candidate.ExternalAccountRef = m[1]
				}
			}

		case len(text) > 30 && strings.Contains(text, "-"):
			if candidate.TransactionID == "" && !isDateLike(text) {
				candidate.TransactionID = text
			}

		case referenceCodeRe.MatchString(text):
			code := text
			candidate.ReferenceCode = &code
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// segmentHTML strips tags and entities from an HTML fragment and returns
// the non-empty text segments in document order. script and style bodies
// are skipped.
func segmentHTML(bodyHTML string) []string {
	var segments []string
	var sb strings.Builder

	flush := func() {
		text := strings.TrimSpace(html.UnescapeString(sb.String()))
		sb.Reset()
		if text != "" {
			segments = append(segments, text)
		}
	}

	inTag := false
	skip := false
	var tagName strings.Builder

	for _, r := range bodyHTML {
		switch {
		case r == '<':
			flush()
			inTag = true
			tagName.Reset()
		case r == '>' && inTag:
			inTag = false
			name := strings.ToLower(strings.TrimSpace(tagName.String()))
			name = strings.TrimSuffix(name, "/")
			if field := strings.Fields(name); len(field) > 0 {
				name = field[0]
			}
			switch name {
			case "script", "style":
				skip = true
			case "/script", "/style":
				skip = false
			}
		case inTag:
			tagName.WriteRune(r)
		case !skip:
			sb.WriteRune(r)
		}
	}
	flush()

	return segments
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// isDateLike reports whether a string looks like a Vietnamese or English
// date, which receipt layouts place near the transaction identifier.
func isDateLike(s string) bool {
	return viDateRe.MatchString(s) || enDateRe.MatchString(s)
}
