package mqtt

import "fmt"

// TopicPrefix is the base for every topic this package publishes or
// subscribes to. The scheme is flat: {prefix}/state/{ga}, {prefix}/command/{ga},
// {prefix}/health.
const TopicPrefix = "knx"

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("1/2/3")
//	// Returns: "knx/state/1/2/3"
type Topics struct{}

// State returns the topic a datapoint's current value is published to,
// retained, whenever a write or response telegram arrives for its group
// address.
//
// Example: knx/state/1/2/3
func (Topics) State(ga string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, ga)
}

// Command returns the topic subscribed to for incoming write commands
// targeting a datapoint's group address.
//
// Example: knx/command/1/2/3
func (Topics) Command(ga string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, ga)
}

// Health returns the topic the bridge publishes its own online/offline
// status to, including via Last Will and Testament.
//
// Example: knx/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// AllStates returns a wildcard pattern matching every datapoint state topic.
//
// Pattern: knx/state/#
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/#", TopicPrefix)
}

// AllCommands returns a wildcard pattern matching every datapoint command
// topic, suitable for a single bridge-wide subscription.
//
// Pattern: knx/command/#
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", TopicPrefix)
}
