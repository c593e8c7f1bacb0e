package intent

import (
	"strings"
)

// keywordRule maps a category to the salon terms that indicate it. Rules are
// ordered by priority: the first matching rule wins.
type keywordRule struct {
	category Category
	terms    []string
}

var safetyTerms = []string{
	"emergency",
	"urgent",
	"ambulance",
	"911",
	"allergic reaction",
	"can't breathe",
	"cannot breathe",
	"bleeding",
	"chemical burn",
	"burned my",
	"burning my scalp",
	"swelling",
}

var keywordRules = []keywordRule{
	{CategoryUrgent, safetyTerms},
	{CategoryHumanRequest, []string{
		"speak to a person", "talk to a person", "real person", "human",
		"speak to someone", "talk to someone", "manager", "receptionist", "operator",
	}},
	{CategoryComplaint, []string{
		"complaint", "complain", "unhappy", "not happy", "terrible", "awful",
		"ruined", "refund", "disappointed", "rude",
	}},
	{CategoryCancel, []string{"cancel", "call off", "won't make it", "can't make it", "cannot make it"}},
	{CategoryReschedule, []string{"reschedule", "move my appointment", "change my appointment", "different time", "another day", "push back"}},
	{CategoryBooking, []string{
		"book", "appointment", "schedule", "reserve", "reservation", "availability",
		"available", "slot", "opening", "come in", "get a haircut", "get my hair",
	}},
	{CategoryPricing, []string{"price", "pricing", "cost", "how much", "charge", "fee", "rates"}},
	{CategoryHours, []string{"hours", "open", "close", "closing", "what time", "weekend", "sunday", "saturday"}},
	{CategoryGeneral, []string{
		"haircut", "color", "colour", "highlights", "balayage", "blowout", "manicure",
		"pedicure", "nails", "facial", "wax", "stylist", "parking", "location", "address",
	}},
}

var serviceTerms = []string{
	"haircut", "hair cut", "trim", "color", "colour", "highlights", "balayage",
	"blowout", "blow dry", "perm", "keratin", "manicure", "pedicure", "gel nails",
	"facial", "wax", "eyebrow", "lashes", "updo",
}

var timeTerms = []string{
	"today", "tonight", "tomorrow", "this week", "next week", "this weekend", "next weekend",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"morning", "afternoon", "evening",
}

// matchKeywords returns the highest-priority category whose terms appear in
// text, and whether any rule matched.
func matchKeywords(text string) (Category, bool) {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		if containsAny(lower, rule.terms) {
			return rule.category, true
		}
	}
	return CategoryUnknown, false
}

// isSafetyCritical reports whether text contains an urgent/emergency term.
func isSafetyCritical(text string) bool {
	return containsAny(strings.ToLower(text), safetyTerms)
}

// extractEntities pulls the first service and time phrases out of text.
func extractEntities(text string) Entities {
	lower := strings.ToLower(text)
	return Entities{
		Service:       firstMatch(lower, serviceTerms),
		RequestedTime: firstMatch(lower, timeTerms),
	}
}

func containsAny(s string, terms []string) bool {
	return firstMatch(s, terms) != ""
}

func firstMatch(s string, terms []string) string {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return term
		}
	}
	return ""
}
