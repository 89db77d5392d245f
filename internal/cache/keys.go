package cache

import "fmt"

func RateLimitKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:%s", clientIP)
}

// ConversionKey addresses a job result re-encoded to another image format.
func ConversionKey(jobID, format string) string {
	return fmt.Sprintf("download:%s:%s", jobID, format)
}
