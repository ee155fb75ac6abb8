package inspect

import (
	"regexp"
	"strings"
)

// Detected value shapes, ordered by detection priority.
const (
	ShapeSQLConnectionString     = "sql-connection-string"
	ShapeStorageConnectionString = "storage-connection-string"
	ShapeBase64OrKey             = "base64-or-key"
	ShapeURL                     = "url"
	ShapeGUID                    = "guid"
	ShapeJSON                    = "json"
	ShapeUnknown                 = "unknown"
)

// ValueShape describes a secret value's structure without exposing it. The
// edge sample is a deliberate partial-disclosure policy: empty for short
// values, a few characters from each end otherwise, never enough to
// reconstruct a secret of realistic length.
type ValueShape struct {
	DetectedType string `json:"detectedType"`
	Length       int    `json:"length"`
	EdgeSample   string `json:"edgeSample,omitempty"`
}

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func isBase64Alphabet(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=':
		default:
			return false
		}
	}
	return true
}

// DescribeValue computes a ValueShape from a plaintext value. Full-string
// pattern matches are tried in priority order; the first match wins.
func DescribeValue(value string) ValueShape {
	shape := ValueShape{
		DetectedType: detectType(value),
		Length:       len(value),
		EdgeSample:   edgeSample(value),
	}
	return shape
}

func detectType(value string) string {
	switch {
	case strings.HasPrefix(value, "Server=") && strings.Contains(value, "Database="):
		return ShapeSQLConnectionString
	case strings.HasPrefix(value, "DefaultEndpointsProtocol="):
		return ShapeStorageConnectionString
	case len(value) >= 20 && isBase64Alphabet(value):
		return ShapeBase64OrKey
	case strings.HasPrefix(value, "https://"):
		return ShapeURL
	case len(value) == 36 && guidPattern.MatchString(value):
		return ShapeGUID
	case strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}"):
		return ShapeJSON
	default:
		return ShapeUnknown
	}
}

func edgeSample(value string) string {
	n := 0
	switch {
	case len(value) <= 10:
		return ""
	case len(value) <= 50:
		n = 3
	default:
		n = 5
	}
	return value[:n] + "..." + value[len(value)-n:]
}
