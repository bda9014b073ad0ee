package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedJSON indicates a completion that was expected to be JSON could
// not be decoded, even after stripping markdown code fences. It is a distinct
// category from transport errors so callers can degrade instead of retrying.
var ErrMalformedJSON = errors.New("malformed JSON completion")

// DecodeJSON decodes a completion into v, tolerating surrounding prose and
// markdown code-fence wrapping. The first balanced JSON value whose opening
// bracket matches the expected kind is used.
func DecodeJSON(content string, v any) error {
	content = strings.TrimSpace(content)

	// Strip a ```json ... ``` or ``` ... ``` wrapper.
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
		content = strings.TrimSpace(content)
	}

	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	// Models sometimes preface the payload with prose. Search for the
	// outermost array or object and decode that slice instead.
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %.80q", ErrMalformedJSON, content)
}
