package intent

import "strings"

const systemPrompt = `You are a campus navigation assistant. Extract the location or building name from the user's query.
Return ONLY a JSON object with these fields:
- "location": the main location/building mentioned
- "query_type": one of ["location", "directions", "hours", "info"]
- "from_location": if asking for directions (optional)

Examples:
"Where is the library?" -> {"location": "library", "query_type": "location"}
"How do I get from library to student center?" -> {"location": "student center", "from_location": "library", "query_type": "directions"}
"What time does the gym close?" -> {"location": "gym", "query_type": "hours"}`

// BuildPrompt returns the system and user prompts for extracting the intent
// of query.
func BuildPrompt(query string) (system, user string) {
	return systemPrompt, strings.TrimSpace(query)
}
