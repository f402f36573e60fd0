package story

import (
	"fmt"
	"strings"
)

// Archetype is the narrative shape of a work story.
type Archetype string

const (
	Firefighter Archetype = "firefighter"
	Architect   Archetype = "architect"
	Diplomat    Archetype = "diplomat"
	Multiplier  Archetype = "multiplier"
	Detective   Archetype = "detective"
	Pioneer     Archetype = "pioneer"
	Turnaround  Archetype = "turnaround"
	Preventer   Archetype = "preventer"
)

// Archetypes lists every archetype in canonical order.
var Archetypes = []Archetype{Firefighter, Architect, Diplomat, Multiplier, Detective, Pioneer, Turnaround, Preventer}

var archetypeLabels = map[Archetype]string{
	Firefighter: "crisis responder",
	Architect:   "system builder",
	Diplomat:    "bridge across teams",
	Multiplier:  "force multiplier",
	Detective:   "root-cause hunter",
	Pioneer:     "first mover",
	Turnaround:  "rescuer of a failing effort",
	Preventer:   "risk averter",
}

// Label is a short human description of the archetype.
func (a Archetype) Label() string { return archetypeLabels[a] }

// Valid reports whether a is one of the fixed archetypes.
func (a Archetype) Valid() bool {
	_, ok := archetypeLabels[a]
	return ok
}

// InvalidArchetypeError reports a value outside the archetype set.
type InvalidArchetypeError struct {
	Value string
}

func (e InvalidArchetypeError) Error() string {
	return fmt.Sprintf("invalid archetype %q", e.Value)
}

// ParseArchetype accepts an archetype name case-insensitively.
func ParseArchetype(v string) (Archetype, error) {
	a := Archetype(strings.ToLower(strings.TrimSpace(v)))
	if !a.Valid() {
		return "", InvalidArchetypeError{Value: v}
	}
	return a, nil
}

// Framework is the section schema a narrative is organized into.
type Framework string

const (
	STAR  Framework = "STAR"
	STARL Framework = "STARL"
	CAR   Framework = "CAR"
	PAR   Framework = "PAR"
	SAR   Framework = "SAR"
	SOAR  Framework = "SOAR"
	SHARE Framework = "SHARE"
	CARL  Framework = "CARL"
)

// Frameworks lists every framework in canonical order.
var Frameworks = []Framework{STAR, STARL, CAR, PAR, SAR, SOAR, SHARE, CARL}

var frameworkSections = map[Framework][]string{
	STAR:  {"situation", "task", "action", "result"},
	STARL: {"situation", "task", "action", "result", "learning"},
	CAR:   {"challenge", "action", "result"},
	PAR:   {"problem", "action", "result"},
	SAR:   {"situation", "action", "result"},
	SOAR:  {"situation", "obstacles", "actions", "results"},
	SHARE: {"situation", "hindrances", "actions", "results", "evaluation"},
	CARL:  {"context", "action", "result", "learning"},
}

// Valid reports whether f is one of the fixed frameworks.
func (f Framework) Valid() bool {
	_, ok := frameworkSections[f]
	return ok
}

// Sections returns a copy of the framework's ordered section keys.
func (f Framework) Sections() []string {
	keys := frameworkSections[f]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// InvalidFrameworkError reports a value outside the framework set.
type InvalidFrameworkError struct {
	Value string
}

func (e InvalidFrameworkError) Error() string {
	return fmt.Sprintf("invalid framework %q", e.Value)
}

// ParseFramework accepts a framework name case-insensitively.
func ParseFramework(v string) (Framework, error) {
	f := Framework(strings.ToUpper(strings.TrimSpace(v)))
	if !f.Valid() {
		return "", InvalidFrameworkError{Value: v}
	}
	return f, nil
}

// sectionRole names the part of a narrative a section key plays.
type sectionRole int

const (
	roleOpening sectionRole = iota
	roleAction
	roleObstacle
	roleResult
	roleLearning
)

var sectionRoles = map[string]sectionRole{
	"situation":  roleOpening,
	"context":    roleOpening,
	"challenge":  roleOpening,
	"problem":    roleOpening,
	"task":       roleOpening,
	"action":     roleAction,
	"actions":    roleAction,
	"obstacles":  roleObstacle,
	"hindrances": roleObstacle,
	"result":     roleResult,
	"results":    roleResult,
	"learning":   roleLearning,
	"evaluation": roleLearning,
}

// sectionFor returns the first key of the framework playing role, or "".
func sectionFor(keys []string, role sectionRole) string {
	for _, k := range keys {
		if r, ok := sectionRoles[k]; ok && r == role {
			return k
		}
	}
	return ""
}
