package detection

import (
	"regexp"
	"strings"
)

// Kinds of sensitive patterns
const (
	KindEmail       = "email"
	KindPhone       = "phone"
	KindCard        = "card"
	KindBTC         = "btc_address"
	KindETH         = "eth_address"
	KindTRON        = "tron_address"
	KindURL         = "url"
	KindTelegramURL = "telegram_link"
	KindMention     = "mention"
)

// Finding is one pattern match
type Finding struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type pattern struct {
	kind  string
	regex *regexp.Regexp
	// accept filters or normalizes a match, empty result rejects it
	accept func(match string) string
}

// Detector finds sensitive patterns in message text
type Detector struct {
	patterns []pattern
}

// NewDetector creates a detector with the built-in pattern set
func NewDetector() *Detector {
	return &Detector{
		patterns: []pattern{
			{
				kind:   KindEmail,
				regex:  regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,24}\b`),
				accept: strings.ToLower,
			},
			// Telegram links before generic URLs so they get the specific kind
			{
				kind:   KindTelegramURL,
				regex:  regexp.MustCompile(`(?i)\b(?:https?://)?(?:t\.me|telegram\.me|telegram\.dog)/(?:joinchat/|\+)?[a-z0-9_\-]{4,}\b`),
				accept: normalizeTelegramLink,
			},
			{
				kind:  KindURL,
				regex: regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+`),
				accept: func(m string) string {
					m = strings.TrimRight(m, ".,;:!?)]}")
					if isTelegramHost(m) {
						return ""
					}
					return m
				},
			},
			{
				kind:  KindMention,
				regex: regexp.MustCompile(`(?:^|[^\w@/.])@([A-Za-z][A-Za-z0-9_]{4,31})\b`),
				accept: func(m string) string {
					return "@" + strings.ToLower(m)
				},
			},
			{
				kind:   KindETH,
				regex:  regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`),
				accept: strings.ToLower,
			},
			{
				kind:  KindBTC,
				regex: regexp.MustCompile(`\b(?:bc1[ac-hj-np-z02-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
			},
			{
				kind:  KindTRON,
				regex: regexp.MustCompile(`\bT[1-9A-HJ-NP-Za-km-z]{33}\b`),
			},
			{
				kind:   KindCard,
				regex:  regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`),
				accept: acceptCard,
			},
			{
				kind:   KindPhone,
				regex:  regexp.MustCompile(`(?:^|[^\w])(\+\d[\d\s\-()]{8,18}\d)`),
				accept: acceptPhone,
			},
		},
	}
}

// Scan returns the distinct findings in text, in pattern order
func (d *Detector) Scan(text string) []Finding {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var findings []Finding
	seen := make(map[Finding]bool)

	for _, p := range d.patterns {
		for _, match := range p.regex.FindAllStringSubmatch(text, -1) {
			value := match[0]
			if len(match) > 1 {
				value = match[1]
			}
			value = strings.TrimSpace(value)
			if p.accept != nil {
				value = p.accept(value)
			}
			if value == "" {
				continue
			}

			f := Finding{Kind: p.kind, Value: value}
			if seen[f] {
				continue
			}
			seen[f] = true
			findings = append(findings, f)
		}
	}
	return findings
}

func normalizeTelegramLink(m string) string {
	m = strings.ToLower(m)
	m = strings.TrimPrefix(m, "https://")
	m = strings.TrimPrefix(m, "http://")
	return m
}

func isTelegramHost(url string) bool {
	u := strings.ToLower(url)
	for _, host := range []string{"://t.me/", "://telegram.me/", "://telegram.dog/"} {
		if strings.Contains(u, host) {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func acceptCard(m string) string {
	digits := digitsOnly(m)
	if len(digits) < 13 || len(digits) > 19 || !luhn(digits) {
		return ""
	}
	return digits
}

func acceptPhone(m string) string {
	digits := digitsOnly(m)
	if len(digits) < 10 || len(digits) > 15 {
		return ""
	}
	return "+" + digits
}

// luhn validates a digit string with the mod 10 checksum
func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
