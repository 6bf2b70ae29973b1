package stats

// Achievement is an unlockable badge. The earned set is add-only: a
// predicate is only evaluated while the achievement is still locked, and the
// first satisfaction marks it earned for good.
type Achievement struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Earned func(*Agent) bool `json:"-"`
}

// Catalog is the full achievement list, evaluated in order.
var Catalog = []Achievement{
	{
		ID:     "first_contribution",
		Title:  "Hello, World",
		Detail: "Made a first contribution.",
		Earned: func(a *Agent) bool { return a.Contributions >= 1 },
	},
	{
		ID:     "ten_contributions",
		Title:  "Regular",
		Detail: "Made 10 contributions.",
		Earned: func(a *Agent) bool { return a.Contributions >= 10 },
	},
	{
		ID:     "fifty_contributions",
		Title:  "Cornerstone",
		Detail: "Made 50 contributions.",
		Earned: func(a *Agent) bool { return a.Contributions >= 50 },
	},
	{
		ID:     "burst",
		Title:  "On Fire",
		Detail: "Made 5 contributions within 2 minutes.",
		Earned: func(a *Agent) bool { return len(a.recent) >= 5 },
	},
	{
		ID:     "night_owl",
		Title:  "Night Owl",
		Detail: "Made 5 contributions between 22:00 and 06:00.",
		Earned: func(a *Agent) bool { return a.NightActions >= 5 },
	},
	{
		ID:     "polymath",
		Title:  "Polymath",
		Detail: "Earned 3 specializations.",
		Earned: func(a *Agent) bool { return len(a.Specializations) >= 3 },
	},
	{
		ID:     "connector",
		Title:  "Connector",
		Detail: "Collaborated with 5 different agents.",
		Earned: func(a *Agent) bool { return len(a.Collaborators) >= 5 },
	},
	{
		ID:     "full_cycle",
		Title:  "Full Cycle",
		Detail: "Used create, edit, and delete at least once each.",
		Earned: func(a *Agent) bool { return a.Creates > 0 && a.Edits > 0 && a.Deletes > 0 },
	},
}
