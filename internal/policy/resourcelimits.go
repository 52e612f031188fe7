package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/duffney/wassette/internal/errs"
)

// memoryUnits maps the k8s-style binary suffixes this policy format accepts
// to their byte multiplier. Only base-2 suffixes are supported (no decimal
// k/M/G, which Kubernetes itself also treats differently from Ki/Mi/Gi).
var memoryUnits = map[string]int64{
	"":   1,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
}

// ParseMemory parses a memory limit string such as "256Mi", "512Ki", or a
// plain byte count, returning the value in bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty memory limit", errs.ErrInvalidLimit)
	}
	for _, suffix := range []string{"Ki", "Mi", "Gi", "Ti"} {
		if strings.HasSuffix(s, suffix) {
			numPart := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil || n < 0 || n > math.MaxInt64/memoryUnits[suffix] {
				return 0, fmt.Errorf("%w: %q", errs.ErrInvalidLimit, s)
			}
			return n * memoryUnits[suffix], nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidLimit, s)
	}
	return n, nil
}

// ParseCPU parses a CPU limit string: "500m" for 500 millicores, or a plain
// decimal number of cores. Returns the value in millicores.
func ParseCPU(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty cpu limit", errs.ErrInvalidLimit)
	}
	if strings.HasSuffix(s, "m") {
		numPart := strings.TrimSuffix(s, "m")
		n, err := strconv.ParseInt(numPart, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", errs.ErrInvalidLimit, s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || f*1000 >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidLimit, s)
	}
	return int64(f * 1000), nil
}

// MemoryPages converts a byte count to the number of 64KiB WebAssembly
// linear-memory pages it corresponds to, rounding up.
func MemoryPages(bytes int64) uint32 {
	const pageSize = 65536
	if bytes <= 0 {
		return 0
	}
	pages := bytes / pageSize
	if bytes%pageSize != 0 {
		pages++
	}
	return uint32(pages)
}
