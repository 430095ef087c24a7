package domain

import "fmt"

// Stage is a step in the fixed, linear handshake. The numeric order is the
// protocol order; an applicant only ever moves forward, except through an
// explicit retry after a failure cooldown.
type Stage int

const (
	StageInit Stage = iota
	StageChallengePending
	StageRegistered
	StageProfileDraft
	StageProfileLocked
	StageUploading
	StageStreaming
	StageTokenPending
	StageAccepted
)

var stageNames = [...]string{
	StageInit:             "Init",
	StageChallengePending: "ChallengePending",
	StageRegistered:       "Registered",
	StageProfileDraft:     "ProfileDraft",
	StageProfileLocked:    "ProfileLocked",
	StageUploading:        "Uploading",
	StageStreaming:        "Streaming",
	StageTokenPending:     "TokenPending",
	StageAccepted:         "Accepted",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s >= StageInit && s <= StageAccepted }

// Next returns the stage after s. Accepted is terminal.
func (s Stage) Next() Stage {
	if s >= StageAccepted {
		return StageAccepted
	}
	return s + 1
}

// RetryStage is where an applicant resumes after retrying a failure in s.
// A failed upload hands back to ProfileLocked so a fresh session can be
// created, a discarded profile starts over from Registered, and all other
// stages restart in place.
func (s Stage) RetryStage() Stage {
	switch s {
	case StageUploading:
		return StageProfileLocked
	case StageProfileDraft, StageProfileLocked:
		return StageRegistered
	}
	return s
}

// ParseStage is the inverse of String.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown stage %q", name)
}
