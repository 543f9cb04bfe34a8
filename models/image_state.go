package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidImageState is returned when an explicit state token is unknown.
var ErrInvalidImageState = errors.New("invalid image state")

// ImageState is the lifecycle state of an image.
//
// Images are registered as NEW, promoted to CANDIDATE for testing and to
// RELEASE once approved. Releasing an image supersedes all older releases of
// the same image type, role and chipset. REVOKED images must never be offered
// for deployment.
type ImageState string

const (
	ImageStateNew        ImageState = "NEW"
	ImageStateCandidate  ImageState = "CANDIDATE"
	ImageStateRelease    ImageState = "RELEASE"
	ImageStateSuperseded ImageState = "SUPERSEDED"
	ImageStateRevoked    ImageState = "REVOKED"
)

// ImageStates lists all states in lifecycle order.
var ImageStates = []ImageState{
	ImageStateNew,
	ImageStateCandidate,
	ImageStateRelease,
	ImageStateSuperseded,
	ImageStateRevoked,
}

// single-letter codes of the legacy storage schema
var imageStateCodes = map[ImageState]string{
	ImageStateNew:        "N",
	ImageStateCandidate:  "C",
	ImageStateRelease:    "R",
	ImageStateSuperseded: "S",
	ImageStateRevoked:    "X",
}

// ParseImageState parses an explicit state token supplied by a client.
// Unlike DecodeImageStateOrDefault, an unknown token is an error.
func ParseImageState(token string) (ImageState, error) {
	s := ImageState(strings.ToUpper(strings.TrimSpace(token)))
	if _, ok := imageStateCodes[s]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidImageState, token)
}

// IsValid reports whether s is one of the known states.
func (s ImageState) IsValid() bool {
	_, ok := imageStateCodes[s]
	return ok
}

// IsRevoked reports whether s is REVOKED.
func (s ImageState) IsRevoked() bool {
	return s == ImageStateRevoked
}

// EncodeImageState returns the single-letter storage code of s.
// The empty state and unknown states encode like REVOKED.
func EncodeImageState(s ImageState) string {
	if code, ok := imageStateCodes[s]; ok {
		return code
	}
	return imageStateCodes[ImageStateRevoked]
}

// DecodeImageStateOrDefault decodes a persisted state.
//
// Both the single-letter codes and the full state names are accepted. An
// empty, missing or unknown value decodes to REVOKED: an image whose state
// cannot be determined must never be treated as deployable. This function
// never fails.
func DecodeImageStateOrDefault(code string) ImageState {
	code = strings.TrimSpace(code)
	for state, c := range imageStateCodes {
		if code == c || code == string(state) {
			return state
		}
	}
	return ImageStateRevoked
}

// UnmarshalJSON validates explicit state tokens. An empty string or null
// leaves the state unset.
func (s *ImageState) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("%w: state must be a string", ErrInvalidImageState)
	}
	if token == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseImageState(token)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
