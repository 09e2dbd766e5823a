package content

import "postflow/internal/project"

const cleanTranscriptPrompt = `You are an editor preparing a spoken transcript for content repurposing.
Remove filler words, false starts, and transcription artifacts while preserving
the speaker's meaning, voice, and every substantive point. Do not summarize.
Respond with JSON: {"cleaned": "<the cleaned transcript>"}`

const extractInsightsPrompt = `You are a content strategist mining a transcript for standalone insights.
Each insight must make a complete point on its own. Score each insight from 0 to 10
on four axes: urgency (acting on it matters now), relatability (the audience sees
themselves in it), specificity (concrete rather than generic), and authority (shows
earned expertise). Respond with JSON:
{"insights": [{"content": "...", "urgency": 0, "relatability": 0, "specificity": 0, "authority": 0}]}`

var generatePostPrompts = map[project.Platform]string{
	project.PlatformLinkedIn: `You are a ghostwriter turning an insight into a LinkedIn post.
Write in first person with a strong hook, short paragraphs, and a closing question
or call to action. Stay under 3000 characters. Respond with JSON:
{"content": "...", "hashtags": ["..."]}`,
	project.PlatformX: `You are a ghostwriter turning an insight into a post for X.
One punchy statement, no preamble, under 280 characters including hashtags.
Respond with JSON: {"content": "...", "hashtags": ["..."]}`,
}
