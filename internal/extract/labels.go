// Package extract parses forum HTML into catalog records. Every parser is
// best-effort: a field that cannot be extracted resolves to its documented
// default and never fails the thread.
package extract

import (
	"strings"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// engineByLabelClass maps forum label CSS classes to engines. Labels render as
// `<span class="label label--renpy">` so the class, not the text, is the
// stable marker.
var engineByLabelClass = map[string]catalog.Engine{
	"label--renpy":  catalog.EngineRenPy,
	"label--unity":  catalog.EngineUnity,
	"label--rpgm":   catalog.EngineRPGM,
	"label--html":   catalog.EngineHTML,
	"label--unreal": catalog.EngineUnreal,
	"label--flash":  catalog.EngineFlash,
	"label--java":   catalog.EngineJava,
	"label--qsp":    catalog.EngineQSP,
	"label--rags":   catalog.EngineRAGS,
	"label--tads":   catalog.EngineTADS,
	"label--adrift": catalog.EngineAdrift,
	"label--twine":  catalog.EngineTwine,
	"label--wolf":   catalog.EngineWolf,
}

// statusByLabelText maps label text to statuses. Status labels carry no
// distinctive class, so matching is on normalized text.
var statusByLabelText = map[string]catalog.Status{
	"completed": catalog.StatusCompleted,
	"ongoing":   catalog.StatusOngoing,
	"abandoned": catalog.StatusAbandoned,
	"on hold":   catalog.StatusOnHold,
}

// EngineForClasses returns the engine for the first recognized label class,
// or EngineOther when none match.
func EngineForClasses(classes []string) catalog.Engine {
	for _, cls := range classes {
		if engine, ok := engineByLabelClass[strings.ToLower(strings.TrimSpace(cls))]; ok {
			return engine
		}
	}
	return catalog.EngineOther
}

// StatusForLabel returns the status for a label's text, or StatusUnknown.
func StatusForLabel(text string) catalog.Status {
	if status, ok := statusByLabelText[strings.ToLower(strings.TrimSpace(text))]; ok {
		return status
	}
	return catalog.StatusUnknown
}

// engineNames is used to keep engine markers out of developer heuristics.
var engineNames = func() map[string]struct{} {
	names := make(map[string]struct{}, len(engineByLabelClass)+1)
	for _, engine := range engineByLabelClass {
		names[strings.ToLower(string(engine))] = struct{}{}
	}
	names[strings.ToLower(string(catalog.EngineOther))] = struct{}{}
	// Common title spellings that differ from the canonical engine name.
	for _, alias := range []string{"renpy", "ren py", "rpgm", "rpg maker mv", "rpg maker mz", "unreal"} {
		names[alias] = struct{}{}
	}
	return names
}()

func isEngineName(s string) bool {
	_, ok := engineNames[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

func isStatusName(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "final", "ongoing", "abandoned", "on hold", "onhold":
		return true
	}
	return false
}
