package mcpserver

// SearchGuide describes how search_notes ranks and attributes results so
// LLM consumers can interpret them.
const SearchGuide = `# Note Search Guide

search_notes runs three retrieval methods in parallel and merges them.

## Sources

- **exact**: case-insensitive substring match on the note title.
  Score 1.0 when the title starts with the query, 0.5 otherwise.
- **fulltext**: keyword search over title, folder and body with stemming.
  Any query term may match. Results carry a snippet with matches wrapped in ` + "`**`" + `.
- **semantic**: embedding similarity between the query and the note title
  plus folder. Finds related notes that share no words with the query.

## Ranking

1. Notes found by more sources rank first.
2. Ties are broken by the normalized score (0 to 1), then by note id.

## Result fields

` + "```" + `json
{
  "note_id": "work/plan.md",
  "title": "Project Plan",
  "folder": "work",
  "score": 1.0,
  "snippet": "Milestones for the quarterly **revenue** review.",
  "sources": ["exact", "fulltext", "semantic"],
  "scores": {"exact": 1.0, "fulltext": 3.2, "semantic": 0.71}
}
` + "```" + `

## Signals

- ` + "`fulltext_stale`" + `: the full-text index predates the latest note change.
  Results come from the previous build while it refreshes.
- ` + "`rebuilding`" + `: an index build is running.
- ` + "`omitted`" + `: sources that did not answer before the deadline.
- ` + "`failed`" + `: sources that returned an error.

Call index_status for details and build_search_index to force a rebuild.
`
