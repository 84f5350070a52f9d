package domain

// EngagementLevel is a point on the engagement lattice. The lattice is a
// total order and captures exactly how "into" a piece of content the user
// has gotten, from a bare glance to a saturated re-read.
type EngagementLevel string

const (
	EngagementLatent     EngagementLevel = "latent"
	EngagementDiscovered EngagementLevel = "discovered"
	EngagementEngaged    EngagementLevel = "engaged"
	EngagementSaturated  EngagementLevel = "saturated"
)

var engagementRank = map[EngagementLevel]int{
	EngagementLatent:     0,
	EngagementDiscovered: 1,
	EngagementEngaged:    2,
	EngagementSaturated:  3,
}

// ValidEngagementLevel reports whether lvl is a known lattice point.
func ValidEngagementLevel(lvl EngagementLevel) bool {
	_, ok := engagementRank[lvl]
	return ok
}

// MaxEngagement returns the upgrade-only join of a and b on the lattice.
// Unknown values rank below every known value so a legacy/garbage level
// never downgrades a known one.
func MaxEngagement(a, b EngagementLevel) EngagementLevel {
	ra, aok := engagementRank[a]
	rb, bok := engagementRank[b]
	if !aok && !bok {
		return a
	}
	if !aok {
		return b
	}
	if !bok {
		return a
	}
	if rb > ra {
		return b
	}
	return a
}

// NormalizeEngagementLevel maps legacy/alias spellings onto the current
// lattice. Unrecognized values pass through unchanged so the store can
// decide whether to reject them.
func NormalizeEngagementLevel(lvl EngagementLevel) EngagementLevel {
	switch lvl {
	case "ambient":
		return EngagementLatent
	case "active":
		return EngagementEngaged
	case "committed":
		return EngagementSaturated
	default:
		return lvl
	}
}

// ContentSource classifies where a captured artifact originated from.
type ContentSource string

const (
	SourceWeb   ContentSource = "web"
	SourcePDF   ContentSource = "pdf"
	SourceVideo ContentSource = "video"
	SourceChat  ContentSource = "chat"
	SourceNote  ContentSource = "note"
	SourceOther ContentSource = "other"
)

var validContentSources = map[ContentSource]bool{
	SourceWeb: true, SourcePDF: true, SourceVideo: true,
	SourceChat: true, SourceNote: true, SourceOther: true,
}

// ValidContentSource reports whether src is a known source type.
func ValidContentSource(src ContentSource) bool {
	return validContentSources[src]
}

// NormalizeContentSource maps legacy aliases onto the current enumeration.
func NormalizeContentSource(src ContentSource) ContentSource {
	switch src {
	case "ai":
		return SourceChat
	case "document", "ebook":
		return SourcePDF
	default:
		return src
	}
}

// SignalType classifies the kind of event a Signal records.
type SignalType string

const (
	SignalSemantic   SignalType = "semantic"
	SignalTemporal   SignalType = "temporal"
	SignalBehavioral SignalType = "behavioral"
)

// MarkerSource records how a Marker/Subspace association came to exist.
type MarkerSource string

const (
	MarkerUserDefined MarkerSource = "user_defined"
	MarkerSuggested   MarkerSource = "suggested"
	MarkerAuto        MarkerSource = "auto"
)
