package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/campusnav/internal/intent"
	"github.com/kalambet/campusnav/internal/storage"
)

const synthesisSystemPrompt = `You are a friendly campus navigation assistant. Provide helpful, conversational responses about campus locations.
- Be concise but informative (2-3 sentences max)
- Use natural language
- Include relevant details like hours and directions
- Be encouraging and helpful`

const notFoundSystemPrompt = "You are a helpful campus navigation assistant."

// BuildPrompt returns the system and user prompts for answering in. The
// template depends on what was resolved:
//   - no building: an apology inviting a retry or the list of locations
//   - hours: the building's opening hours
//   - directions with a route: walking directions from origin to building
//   - anything else: a description of the building
//
// A directions intent without a route (or without a resolved origin) uses
// the descriptive template.
func BuildPrompt(in intent.Intent, building *storage.Building, route *storage.Route, origin *storage.Building) (system, user string) {
	if building == nil {
		return notFoundSystemPrompt, fmt.Sprintf(
			"The user asked: '%s'. We couldn't find that location on campus. Apologize politely and ask if they meant something else or if they'd like to see all available locations.",
			in.OriginalQuery)
	}

	withRoute := in.QueryType == intent.TypeDirections && route != nil && origin != nil
	facts := buildContext(building, route, origin, withRoute)

	switch {
	case in.QueryType == intent.TypeHours:
		user = fmt.Sprintf("The user asked: '%s'. Tell them the hours for %s in a friendly way. Hours: %s",
			in.OriginalQuery, building.Name, FormatHours(building.Hours))
	case withRoute:
		user = fmt.Sprintf("The user asked: '%s'. Give them clear walking directions from %s to %s. Use this info: %s",
			in.OriginalQuery, origin.Name, building.Name, facts)
	default:
		user = fmt.Sprintf("The user asked: '%s'. Tell them about %s location and what's there. Use this info: %s",
			in.OriginalQuery, building.Name, facts)
	}
	return synthesisSystemPrompt, user
}

// buildContext renders the facts block handed to the model.
func buildContext(b *storage.Building, route *storage.Route, origin *storage.Building, withRoute bool) string {
	var sb strings.Builder

	sb.WriteString("Building Information:\n")
	fmt.Fprintf(&sb, "Name: %s\n", b.Name)
	fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	fmt.Fprintf(&sb, "Address: %s\n", b.Address)
	fmt.Fprintf(&sb, "Hours: %s\n", FormatHours(b.Hours))

	if withRoute {
		sb.WriteString("\nRoute Information:\n")
		fmt.Fprintf(&sb, "From: %s\n", origin.Name)
		fmt.Fprintf(&sb, "To: %s\n", b.Name)
		fmt.Fprintf(&sb, "Distance: %d meters\n", route.DistanceMeters)
		fmt.Fprintf(&sb, "Walking Time: %d minutes\n", route.WalkTimeMinutes)
		fmt.Fprintf(&sb, "Directions: %s\n", route.Description)
	}

	return sb.String()
}

// FormatHours renders hours as "mon-fri: 7:00 AM - 11:00 PM; sat-sun: ...",
// day ranges sorted for stable output.
func FormatHours(h storage.Hours) string {
	if len(h) == 0 {
		return "not listed"
	}
	days := make([]string, 0, len(h))
	for d := range h {
		days = append(days, d)
	}
	sort.Strings(days)

	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = d + ": " + h[d]
	}
	return strings.Join(parts, "; ")
}
