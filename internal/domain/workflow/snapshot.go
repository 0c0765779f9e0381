package workflow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodeSnapshot serializes a full session snapshot. The encoding is
// deterministic: the same session always produces the same bytes.
func EncodeSnapshot(s *Session) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses and validates a stored session snapshot
func DecodeSnapshot(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	for _, step := range orderedSteps {
		s.Record(step)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("corrupted session snapshot: %w", err)
	}
	return &s, nil
}

// ResumeToken returns the token a suspended session can be resumed with.
// It binds the session key to the session id, so a token issued before a
// reset does not resume the replacement session.
func (s *Session) ResumeToken() string {
	return s.ID.String() + "." + base64.RawURLEncoding.EncodeToString([]byte(s.Key))
}

// ParseResumeToken splits a resume token into session key and id
func ParseResumeToken(token string) (key string, id SessionID, err error) {
	rawID, rawKey, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || rawID == "" || rawKey == "" {
		return "", "", ErrInvalidInput.WithMessage("malformed resume token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(rawKey)
	if err != nil {
		return "", "", ErrInvalidInput.WithMessage("malformed resume token").Wrap(err)
	}
	return string(decoded), SessionID(rawID), nil
}
