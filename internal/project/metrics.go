package project

// ComputeMetrics derives the rollup snapshot from child collections. It is a
// pure function: calling it twice with no intervening mutation yields
// identical output.
func ComputeMetrics(p *Project, insights []*Insight, posts []*Post, scheduled []*ScheduledPost) Metrics {
	var m Metrics

	m.InsightTotal = len(insights)
	for _, insight := range insights {
		switch insight.Status {
		case InsightDraft:
			m.InsightDraft++
		case InsightApproved:
			m.InsightApproved++
		case InsightRejected:
			m.InsightRejected++
		}
	}

	m.PostTotal = len(posts)
	for _, post := range posts {
		switch post.Status {
		case PostDraft:
			m.PostDraft++
		case PostApproved:
			m.PostApproved++
		case PostRejected:
			m.PostRejected++
		case PostPublished:
			m.PostPublished++
		}
	}

	m.ScheduledTotal = len(scheduled)
	for _, sp := range scheduled {
		switch sp.Status {
		case ScheduledPending, ScheduledPublishing:
			m.ScheduledPending++
		case ScheduledRetry:
			m.ScheduledRetry++
		case ScheduledPublished:
			m.ScheduledPublished++
		case ScheduledFailed:
			m.ScheduledFailed++
		case ScheduledCancelled:
			m.ScheduledCancelled++
		}
	}

	if p != nil {
		if p.CleanedContent != "" {
			m.TranscriptWords = CountWords(p.CleanedContent)
		} else {
			m.TranscriptWords = CountWords(p.RawTranscript)
		}
	}
	return m
}

// AllScheduledResolved reports whether no pending or retry items remain, i.e.
// every scheduled post reached a terminal status.
func AllScheduledResolved(scheduled []*ScheduledPost) bool {
	if len(scheduled) == 0 {
		return false
	}
	for _, sp := range scheduled {
		if !sp.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyScheduledInFlight reports whether a dispatch attempt currently holds a
// claim on one of the scheduled posts.
func AnyScheduledInFlight(scheduled []*ScheduledPost) bool {
	for _, sp := range scheduled {
		if sp.Status == ScheduledPublishing {
			return true
		}
	}
	return false
}

// AnyScheduledFailed reports whether at least one scheduled post failed
// permanently.
func AnyScheduledFailed(scheduled []*ScheduledPost) bool {
	for _, sp := range scheduled {
		if sp.Status == ScheduledFailed {
			return true
		}
	}
	return false
}
