package mqtt

import "fmt"

// Topic prefixes for everything the ingester publishes.
const (
	// TopicPrefix is the root of the topic tree.
	TopicPrefix = "ceazamet"

	// TopicPrefixReading is the base for mirrored readings.
	// Scheme: ceazamet/reading/{station_code}/{sensor_code}
	TopicPrefixReading = TopicPrefix + "/reading"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for ingester MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.Reading("PC", "TA_PC")
//	// Returns: "ceazamet/reading/PC/TA_PC"
type Topics struct{}

// Reading returns the topic a sensor's readings are mirrored to.
// Topic separators and wildcards inside codes are replaced with "_".
//
// Example: ceazamet/reading/PC/TA_PC
func (Topics) Reading(stationCode, sensorCode string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixReading, topicLevel(stationCode), topicLevel(sensorCode))
}

// AllReadings returns a pattern matching every mirrored reading.
//
// Pattern: ceazamet/reading/+/+
func (Topics) AllReadings() string {
	return TopicPrefixReading + "/+/+"
}

// SystemStatus returns the ingester status topic (online/offline, LWT).
//
// Example: ceazamet/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// RoundReport returns the topic round summaries are published to.
//
// Example: ceazamet/system/round
func (Topics) RoundReport() string {
	return TopicPrefixSystem + "/round"
}

// topicLevel makes s safe as a single topic level.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	out := []byte(s)
	for i, b := range out {
		switch b {
		case '/', '+', '#':
			out[i] = '_'
		}
	}
	return string(out)
}
