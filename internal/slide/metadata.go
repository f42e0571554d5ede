package slide

import (
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// Scanner vendors embed physical resolution and magnification in a free-text
// description field, e.g.
//
//	Aperio Image Format|AppMag = 40|MPP = 0.2477
//
// These values are advisory; absence of a match yields nil, never an error.
var (
	mppPattern = regexp.MustCompile(`MPP\s*=\s*([\d.]+)`)
	magPattern = regexp.MustCompile(`AppMag\s*=\s*([\d.]+)`)
)

// ParseMPP extracts the micrometers-per-pixel value from an image description.
func ParseMPP(description string) *float64 {
	return matchFloat(mppPattern, description)
}

// ParseMagnification extracts the objective magnification from an image description.
func ParseMagnification(description string) *float64 {
	return matchFloat(magPattern, description)
}

func matchFloat(pat *regexp.Regexp, s string) *float64 {
	m := pat.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// FilterScalarProperties reduces a raw decoder property set to string and
// numeric values, rendered as strings. Structured or opaque values are
// dropped with a debug note rather than surfaced as an error.
func FilterScalarProperties(raw map[string]interface{}, log *zap.Logger) map[string]string {
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			props[k] = val
		case int:
			props[k] = strconv.Itoa(val)
		case int64:
			props[k] = strconv.FormatInt(val, 10)
		case float64:
			props[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			if log != nil {
				log.Debug("Dropping non-scalar slide property", zap.String("key", k))
			}
		}
	}
	return props
}
