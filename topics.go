package losantmqtt

import "fmt"

// TopicPrefix is the base for all Losant platform topics.
// The full topic convention is losant/{device_id}/{command|state}.
const TopicPrefix = "losant"

// CommandTopic returns the topic on which the platform sends commands
// to a device.
//
// Example: losant/device_id/command
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, deviceID)
}

// StateTopic returns the topic on which a device reports state to
// the platform.
//
// Example: losant/device_id/state
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefix, deviceID)
}
