package convert

import "time"

const mb = 1024 * 1024

// EstimateTimeout maps a PDF payload size to a conversion time budget.
// Step function, thresholds strictly greater-than:
//
//	>10MB → 600s, >5MB → 300s, >2MB → 180s, else 120s
//
// LibreOffice conversion time grows with page count rather than bytes, but
// byte size is the only signal available before parsing.
func EstimateTimeout(sizeBytes int64) time.Duration {
	switch {
	case sizeBytes > 10*mb:
		return 600 * time.Second
	case sizeBytes > 5*mb:
		return 300 * time.Second
	case sizeBytes > 2*mb:
		return 180 * time.Second
	default:
		return 120 * time.Second
	}
}
