package protector

import (
	"regexp"
	"strings"
)

// Mode is a door access mode index as used by the hub's timeZone field.
type Mode int

// Door access modes.
const (
	ModeLockdown        Mode = 0
	ModeCard            Mode = 1
	ModePin             Mode = 2
	ModeCardOrPin       Mode = 3
	ModeCardAndPin      Mode = 4
	ModeUnlock          Mode = 5
	ModeFirstCredential Mode = 6
	ModeDualCredential  Mode = 7
	ModeLockdownAlt     Mode = 8
)

// defaultBaselineMode is restored on resume when no baseline was seen.
const defaultBaselineMode = ModeCard

var modeNames = map[Mode]string{
	ModeLockdown:        "Lockdown",
	ModeCard:            "Card",
	ModePin:             "Pin",
	ModeCardOrPin:       "Card or Pin",
	ModeCardAndPin:      "Card and Pin",
	ModeUnlock:          "Unlock",
	ModeFirstCredential: "First Credential In",
	ModeDualCredential:  "Dual Credential",
	ModeLockdownAlt:     "Lockdown",
}

// String returns the display name of the mode.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "Unknown"
}

// modePhrases is ordered longest phrase first so compound modes are matched
// before their single-word components.
var modePhrases = []struct {
	re   *regexp.Regexp
	mode Mode
}{
	{regexp.MustCompile(`\bcard\s+or\s+pin\b`), ModeCardOrPin},
	{regexp.MustCompile(`\bcard\s+and\s+pin\b`), ModeCardAndPin},
	{regexp.MustCompile(`\bfirst\s+credential\s+in\b`), ModeFirstCredential},
	{regexp.MustCompile(`\bdual\s+credential\b`), ModeDualCredential},
	{regexp.MustCompile(`\blockdown\b`), ModeLockdown},
	{regexp.MustCompile(`\bunlock(?:ed)?\b`), ModeUnlock},
	{regexp.MustCompile(`\bpin\b`), ModePin},
	{regexp.MustCompile(`\bcard\b`), ModeCard},
}

// ModeFromPhrase maps a free-text mode phrase to a mode index.
func ModeFromPhrase(phrase string) (Mode, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return 0, false
	}
	for _, mp := range modePhrases {
		if mp.re.MatchString(p) {
			return mp.mode, true
		}
	}
	return 0, false
}

var currentStatePhrase = regexp.MustCompile(`current state is\s+([a-z\s/]+)`)

// synthesisInput is what a rule sees of a resolved notification.
type synthesisInput struct {
	// text is the lowercased message.
	text             string
	notificationType string
	baseline         *Mode
}

// synthesisRule is one entry of the ordered synthesis rule list. Exclusive
// rules stop the scan of other exclusive rules once one applies; independent
// rules are always evaluated.
type synthesisRule struct {
	name      string
	exclusive bool
	applies   func(in synthesisInput) bool
	status    func(in synthesisInput) (DoorStatus, bool)
}

// Notification type carrying explicit lock-state text.
const notificationDoorLockState = "DOOR_LOCK_STATE"

var synthesisRules = []synthesisRule{
	{
		name:      "override_with_state",
		exclusive: true,
		applies: func(in synthesisInput) bool {
			return strings.Contains(in.text, "has been overridden") && strings.Contains(in.text, "current state is")
		},
		status: func(in synthesisInput) (DoorStatus, bool) {
			st := DoorStatus{Overridden: boolPtr(true)}
			match := currentStatePhrase.FindStringSubmatch(in.text)
			if match == nil {
				return st, true
			}
			mode, ok := ModeFromPhrase(match[1])
			if !ok {
				return st, true
			}
			st.TimeZone = intPtr(int(mode))
			if mode == ModeUnlock {
				st.Strike = boolPtr(true)
				st.Opener = boolPtr(true)
			}
			return st, true
		},
	},
	{
		name:      "unlock_override",
		exclusive: true,
		applies: containsAny(
			"unlock until resume",
			"unlock until next schedule",
			"timed override unlock",
		),
		status: func(synthesisInput) (DoorStatus, bool) {
			return DoorStatus{
				Strike:     boolPtr(true),
				Opener:     boolPtr(true),
				Overridden: boolPtr(true),
				TimeZone:   intPtr(int(ModeUnlock)),
			}, true
		},
	},
	{
		name:      "card_or_pin_override",
		exclusive: true,
		applies: containsAny(
			"cardorpin until resume",
			"card or pin until resume",
		),
		status: func(synthesisInput) (DoorStatus, bool) {
			return DoorStatus{
				Overridden: boolPtr(true),
				TimeZone:   intPtr(int(ModeCardOrPin)),
			}, true
		},
	},
	{
		name:      "resume_schedule",
		exclusive: true,
		applies: containsAny(
			"resume schedule",
			"schedule resumed",
			"returned to schedule",
			"override cleared",
			"has resumed from an overridden state",
		),
		status: func(in synthesisInput) (DoorStatus, bool) {
			mode := defaultBaselineMode
			if in.baseline != nil {
				mode = *in.baseline
			}
			return DoorStatus{
				Overridden: boolPtr(false),
				TimeZone:   intPtr(int(mode)),
			}, true
		},
	},
	{
		name:      "lock_state",
		exclusive: false,
		applies: func(in synthesisInput) bool {
			return in.notificationType == notificationDoorLockState
		},
		status: func(in synthesisInput) (DoorStatus, bool) {
			switch {
			case strings.Contains(in.text, "unlocked"):
				return DoorStatus{Strike: boolPtr(true), Opener: boolPtr(true)}, true
			case strings.Contains(in.text, "locked"):
				return DoorStatus{Strike: boolPtr(false), Opener: boolPtr(false)}, true
			default:
				return DoorStatus{}, false
			}
		},
	},
}

func containsAny(phrases ...string) func(synthesisInput) bool {
	return func(in synthesisInput) bool {
		for _, p := range phrases {
			if strings.Contains(in.text, p) {
				return true
			}
		}
		return false
	}
}

// synthesis is one status produced by a rule.
type synthesis struct {
	rule   string
	status DoorStatus
}

// synthesize runs the rule list against a notification and returns the
// statuses to emit, in rule order.
func synthesize(in synthesisInput) []synthesis {
	var out []synthesis
	exclusiveMatched := false

	for _, r := range synthesisRules {
		if r.exclusive && exclusiveMatched {
			continue
		}
		if !r.applies(in) {
			continue
		}
		if r.exclusive {
			exclusiveMatched = true
		}
		if st, ok := r.status(in); ok && !st.IsEmpty() {
			out = append(out, synthesis{rule: r.name, status: st})
		}
	}
	return out
}
