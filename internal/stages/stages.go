package stages

import "strings"

// Stage represents one named state in the project lifecycle graph.
type Stage string

const (
	StageRawContent        Stage = "raw_content"
	StageProcessingContent Stage = "processing_content"
	StageInsightsReady     Stage = "insights_ready"
	StageInsightsApproved  Stage = "insights_approved"
	StagePostsGenerated    Stage = "posts_generated"
	StagePostsApproved     Stage = "posts_approved"
	StageScheduled         Stage = "scheduled"
	StagePublishing        Stage = "publishing"
	StagePublished         Stage = "published"
	StageArchived          Stage = "archived"
)

// allStages lists every stage in canonical pipeline order.
var allStages = []Stage{
	StageRawContent,
	StageProcessingContent,
	StageInsightsReady,
	StageInsightsApproved,
	StagePostsGenerated,
	StagePostsApproved,
	StageScheduled,
	StagePublishing,
	StagePublished,
	StageArchived,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

type edge struct {
	from Stage
	to   Stage
}

// forwardEdges connects each stage to its immediate successor.
var forwardEdges = func() []edge {
	edges := make([]edge, 0, len(allStages)-1)
	for i := 0; i < len(allStages)-1; i++ {
		edges = append(edges, edge{from: allStages[i], to: allStages[i+1]})
	}
	return edges
}()

// alternateEdges enumerates the permitted rollback and bypass transitions.
// The table is explicit: membership here is the only thing that makes a
// non-forward transition legal.
var alternateEdges = []edge{
	{from: StageProcessingContent, to: StageRawContent}, // processing failed
	{from: StageInsightsReady, to: StageProcessingContent},
	{from: StagePostsGenerated, to: StageInsightsApproved},
	{from: StagePostsApproved, to: StagePublishing}, // direct publish, skip scheduling
	{from: StagePublishing, to: StageScheduled},     // publish failed, requeue
	{from: StageArchived, to: StageRawContent},      // restore
}

var edgeSet = func() map[edge]struct{} {
	set := make(map[edge]struct{}, len(forwardEdges)+len(alternateEdges))
	for _, e := range forwardEdges {
		set[e] = struct{}{}
	}
	for _, e := range alternateEdges {
		set[e] = struct{}{}
	}
	return set
}()

// progressByStage maps each stage to its derived progress percentage.
// StageArchived is absent on purpose: archiving freezes the prior value.
// The table is verified at init to cover every non-archived stage exactly
// once, so a divergent or incomplete edit fails fast rather than shipping
// mixed progress values.
var progressByStage = map[Stage]int{
	StageRawContent:        0,
	StageProcessingContent: 10,
	StageInsightsReady:     25,
	StageInsightsApproved:  40,
	StagePostsGenerated:    55,
	StagePostsApproved:     70,
	StageScheduled:         85,
	StagePublishing:        95,
	StagePublished:         100,
}

func init() {
	for _, stage := range allStages {
		if stage == StageArchived {
			if _, ok := progressByStage[stage]; ok {
				panic("stages: archived must not appear in the progress table")
			}
			continue
		}
		if _, ok := progressByStage[stage]; !ok {
			panic("stages: progress table missing stage " + string(stage))
		}
	}
	if len(progressByStage) != len(allStages)-1 {
		panic("stages: progress table contains an unknown stage")
	}
}

// All returns the ordered list of known stages.
func All() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// Parse converts a string into a known Stage.
func Parse(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsValid reports whether stage is a member of the fixed stage set.
func IsValid(stage Stage) bool {
	_, ok := stageSet[stage]
	return ok
}

// IsTerminal reports whether a stage ends the pipeline. Archived is terminal
// except for the restore edge back to raw content.
func IsTerminal(stage Stage) bool {
	return stage == StagePublished || stage == StageArchived
}

// IsValidTransition reports whether the (from, to) edge is legal. Archiving
// is permitted from every stage except Archived itself; every other
// transition must appear in the edge table.
func IsValidTransition(from, to Stage) bool {
	if !IsValid(from) || !IsValid(to) {
		return false
	}
	if to == StageArchived {
		return from != StageArchived
	}
	_, ok := edgeSet[edge{from: from, to: to}]
	return ok
}

// ProgressFor returns the derived progress percentage for a stage. For
// StageArchived the prior value is preserved, so the caller's current
// progress is returned unchanged.
func ProgressFor(stage Stage, current int) int {
	if stage == StageArchived {
		return current
	}
	if progress, ok := progressByStage[stage]; ok {
		return progress
	}
	return current
}

// Label returns a human-readable name for presentation.
func (s Stage) Label() string {
	switch s {
	case StageRawContent:
		return "Raw Content"
	case StageProcessingContent:
		return "Processing"
	case StageInsightsReady:
		return "Insights Ready"
	case StageInsightsApproved:
		return "Insights Approved"
	case StagePostsGenerated:
		return "Posts Generated"
	case StagePostsApproved:
		return "Posts Approved"
	case StageScheduled:
		return "Scheduled"
	case StagePublishing:
		return "Publishing"
	case StagePublished:
		return "Published"
	case StageArchived:
		return "Archived"
	default:
		return string(s)
	}
}
