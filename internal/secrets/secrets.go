// Package secrets applies a fixed set of pattern matchers to newly-read
// transcript bytes to flag leaked credentials, per spec.md §4.9.
// Private-key candidates get an additional base64-density check so
// that a transcript merely quoting a key-shaped code block doesn't
// trip a false positive.
package secrets

import (
	"regexp"
	"strings"
)

// Alert mirrors health.SecretAlert without importing the health
// package, keeping this scanner dependency-free; callers translate.
type Alert struct {
	Type            string
	TruncatedSample string
}

const sampleLen = 24

var patterns = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"generic_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"vcs_pat", regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{36}`)},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"db_url_credentials", regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s:/@]+:[^\s:/@]+@[^\s/]+`)},
}

var base64Char = regexp.MustCompile(`[A-Za-z0-9+/=]`)
var pemBody = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----([\s\S]*?)-----END [A-Z ]*PRIVATE KEY-----`)

// Scan applies every pattern against data (already decoded as text) and
// returns one Alert per match that survives validation.
func Scan(data []byte) []Alert {
	text := string(data)
	var alerts []Alert

	for _, p := range patterns {
		matches := p.re.FindAllString(text, -1)
		for _, m := range matches {
			if p.typ == "pem_private_key" && !isLikelyPrivateKey(m) {
				continue
			}
			alerts = append(alerts, Alert{Type: p.typ, TruncatedSample: truncate(m, sampleLen)})
		}
	}
	return alerts
}

// isLikelyPrivateKey rejects PEM-shaped blocks whose inner body isn't
// actually base64: the transcript might just be quoting example code.
func isLikelyPrivateKey(match string) bool {
	sub := pemBody.FindStringSubmatch(match)
	if len(sub) != 2 {
		return false
	}
	body := strings.Join(strings.Fields(sub[1]), "")
	if len(body) < 200 {
		return false
	}

	base64Count := 0
	for _, r := range body {
		if base64Char.MatchString(string(r)) {
			base64Count++
		}
	}
	density := float64(base64Count) / float64(len(body))
	return density >= 0.8
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
