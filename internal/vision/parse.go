package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/lox/sanitrack/internal/scoring"
)

var (
	// ErrNoJSON is returned when a model reply contains no JSON object.
	ErrNoJSON = errors.New("no JSON object in model reply")
	// ErrBadReply is returned when the JSON in a reply does not describe
	// valid signals.
	ErrBadReply = errors.New("malformed model reply")
)

var jsonBlock = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseReply extracts the first {...} block from a model reply and decodes
// the inspection signals from it. Models often wrap JSON in markdown fences
// or prose, so anything outside the braces is ignored.
func ParseReply(content string) (scoring.Signals, []byte, error) {
	block := jsonBlock.FindString(content)
	if block == "" {
		return scoring.Signals{}, nil, ErrNoJSON
	}

	var s scoring.Signals
	if err := json.Unmarshal([]byte(block), &s); err != nil {
		return scoring.Signals{}, nil, fmt.Errorf("%w: decode signals: %v", ErrBadReply, err)
	}
	if s.LitterCount < 0 {
		return scoring.Signals{}, nil, fmt.Errorf("%w: negative litter_count %d", ErrBadReply, s.LitterCount)
	}
	return s, []byte(block), nil
}
