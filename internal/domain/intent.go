package domain

// IntentLevel is the engagement classification of a prospect.
type IntentLevel string

const (
	IntentExploring  IntentLevel = "exploring"
	IntentInterested IntentLevel = "interested"
	IntentHigh       IntentLevel = "high-intent"
)

// Backend intent labels.
const (
	LabelGreeting       = "greeting"
	LabelProductPricing = "product_pricing"
	LabelHighIntent     = "high_intent"
)

// IntentFromLabel maps a backend intent label to an IntentLevel.
// Unknown labels map to IntentExploring.
func IntentFromLabel(label string) IntentLevel {
	switch label {
	case LabelProductPricing:
		return IntentInterested
	case LabelHighIntent:
		return IntentHigh
	default:
		return IntentExploring
	}
}
