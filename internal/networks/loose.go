package networks

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// looseInt decodes a JSON number, a numeric string or null.
// Anything unparsable becomes zero: the master server relays raw game server
// replies and their typing is not consistent across mods.
type looseInt int64

func (n *looseInt) UnmarshalJSON(b []byte) error {
	*n = 0

	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = looseInt(i)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*n = looseInt(f)
	}

	return nil
}

// looseString decodes a JSON string, or the literal text of a number or bool.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	*s = ""

	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err == nil {
			*s = looseString(str)
		}
	case '{', '[':
		// structured values have no string form
	default:
		*s = looseString(b)
	}

	return nil
}
