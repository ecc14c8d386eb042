package triage

// Disclaimer accompanies every self-care notice sent to a subject.
const Disclaimer = "This guidance is informational and is not a medical diagnosis. " +
	"If symptoms worsen or new symptoms appear, seek medical care immediately."

var adviceByLevel = map[string]string{
	"critical": "Emergency care has been notified. Do not wait for a callback; " +
		"if the situation worsens call emergency services now.",
	"urgent": "Your symptoms should be reviewed by a clinician soon. " +
		"Please book the suggested appointment and avoid strenuous activity until seen.",
	"moderate_high": "Rest, stay hydrated and monitor your symptoms closely. " +
		"Book a routine appointment if there is no improvement within 24 hours.",
	"moderate_low": "Rest, stay hydrated and use over-the-counter remedies as directed. " +
		"Book a routine appointment if symptoms persist beyond 48 hours.",
	"mild": "Your symptoms can usually be managed at home with rest and fluids. " +
		"Contact the clinic if anything changes.",
}

// Advice returns the self-care instructions for a priority level. Unknown
// levels fall back to the mild guidance.
func Advice(level string) string {
	if a, ok := adviceByLevel[level]; ok {
		return a
	}
	return adviceByLevel["mild"]
}
