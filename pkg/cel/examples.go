package cel

// ConditionExamples are rule conditions printed by `mqdiag debug --examples`.
var ConditionExamples = map[string]string{
	"event_name":        `event["Event-Name"] == "HEARTBEAT"`,
	"not_channel_event": `!event["Event-Name"].startsWith("CHANNEL_")`,
	"has_field":         `has(event.password)`,
	"numeric_compare":   `has(event.duration) && event.duration > 60`,
	"in_list":           `event.status in ["failed", "busy"]`,
	"nested_field":      `has(event.caller) && event.caller.country == "US"`,
	"destination":       `destination.startsWith("/queue/audit")`,
	"always":            `true`,
}
