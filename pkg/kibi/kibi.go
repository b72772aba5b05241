// Package kibi formats and parses byte sizes with binary (1024) multipliers,
// such as "64 MB".
package kibi

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidSize = fmt.Errorf("Invalid byte size")

var sizeRegex = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

var units = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

// Format renders b in the largest unit that doesn't lose the integer part, eg "35 MB"
func Format(b int64) string {
	u := 0
	for u < len(units)-1 && b >= 1024 {
		b /= 1024
		u++
	}
	return fmt.Sprintf("%v %v", b, units[u])
}

// Parse accepts a plain number of bytes, or a number with a suffix.
// Suffixes are case insensitive, and may be abbreviated to one letter: "50 k", "50 KB", "50 gb".
func Parse(v string) (int64, error) {
	m := sizeRegex.FindStringSubmatch(strings.TrimSpace(strings.ToLower(v)))
	if m == nil {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidSize, v)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w '%v': %v", ErrInvalidSize, v, err)
	}
	suffix := m[2]
	if suffix == "" || suffix == "b" || suffix == "bytes" {
		return value, nil
	}
	for i := 1; i < len(units); i++ {
		unit := strings.ToLower(units[i])
		if suffix == unit || suffix == unit[:1] {
			if value > math.MaxInt64>>(10*i) {
				return 0, fmt.Errorf("%w '%v': too large", ErrInvalidSize, v)
			}
			return value << (10 * i), nil
		}
	}
	return 0, fmt.Errorf("%w '%v'", ErrInvalidSize, v)
}

// Size is a number of bytes. In JSON it can be written as a number, or as a string such as "64 MB".
type Size int64

func (s Size) String() string {
	return Format(int64(s))
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Size) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSize, string(b))
	}
	v, err := Parse(str)
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}
