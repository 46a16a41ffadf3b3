package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ReportKey builds the key of a monthly COP report. Surrounding whitespace is
// ignored; category and unit are otherwise case-sensitive, like the upstream
// tables.
func ReportKey(category, unit string, year int, month time.Month) string {
	return "report:" + makeKey(
		strings.TrimSpace(category),
		strings.TrimSpace(unit),
		fmt.Sprintf("%04d-%02d", year, int(month)),
	)
}

// AnalysisKey builds the key of an ad-hoc analysis request from the
// operation name and its canonical request body.
func AnalysisKey(operation string, body []byte) string {
	return "analysis:" + makeKey(canonicalName(operation), string(body))
}

func canonicalName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func makeKey(parts ...string) string {
	joined := strings.Join(parts, "|")
	h := sha1.Sum([]byte(joined))
	return hex.EncodeToString(h[:])
}
