package bridge

import (
	"fmt"
	"strings"

	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/mqtt"
)

// Category is the routing class of an inbound topic.
type Category string

// Routing categories.
const (
	CategoryCapabilities   Category = "capabilities"
	CategorySensorData     Category = "sensor-data"
	CategoryActuatorStatus Category = "actuator-status"
	CategoryDeviceStatus   Category = "device-status"
	CategoryDeviceError    Category = "device-error"
	CategoryUnrecognized   Category = "unrecognized"
)

const (
	// shortTopicParts is devices/{id}/{category}.
	shortTopicParts = 3

	// typedTopicParts is devices/{id}/{category}/{type}/{leaf}.
	typedTopicParts = 5

	leafData   = "data"
	leafStatus = "status"
	leafCmd    = "cmd"
)

// RouteInfo is the classification of one topic.
type RouteInfo struct {
	Category Category
	DeviceID string

	// Type is the sensor or actuator type for typed categories, empty otherwise.
	Type string
}

// Route classifies topic into exactly one category.
//
// Topics outside the devices/ namespace, unknown categories and our own
// command topics are CategoryUnrecognized with a nil error. A known category
// with the wrong segment count or an empty ID returns ErrMalformedTopic.
func Route(topic string) (RouteInfo, error) {
	parts := strings.Split(topic, "/")
	if len(parts) == 0 || parts[0] != mqtt.TopicPrefixDevices {
		return RouteInfo{Category: CategoryUnrecognized}, nil
	}
	if len(parts) < shortTopicParts || parts[1] == "" {
		return RouteInfo{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	info := RouteInfo{DeviceID: parts[1]}
	switch parts[2] {
	case mqtt.CategoryCapabilities:
		info.Category = CategoryCapabilities
		return info, expectParts(topic, parts, shortTopicParts)

	case mqtt.CategoryStatus:
		info.Category = CategoryDeviceStatus
		return info, expectParts(topic, parts, shortTopicParts)

	case mqtt.CategoryError:
		info.Category = CategoryDeviceError
		return info, expectParts(topic, parts, shortTopicParts)

	case mqtt.CategorySensors:
		if err := expectParts(topic, parts, typedTopicParts); err != nil {
			return RouteInfo{}, err
		}
		if parts[3] == "" || parts[4] != leafData {
			return RouteInfo{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
		}
		info.Category = CategorySensorData
		info.Type = parts[3]
		return info, nil

	case mqtt.CategoryActuators:
		if err := expectParts(topic, parts, typedTopicParts); err != nil {
			return RouteInfo{}, err
		}
		if parts[3] == "" {
			return RouteInfo{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
		}
		switch parts[4] {
		case leafStatus:
			info.Category = CategoryActuatorStatus
			info.Type = parts[3]
			return info, nil
		case leafCmd:
			// Outbound commands echoed back by the broker.
			return RouteInfo{Category: CategoryUnrecognized, DeviceID: info.DeviceID, Type: parts[3]}, nil
		default:
			return RouteInfo{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
		}
	}

	info.Category = CategoryUnrecognized
	return info, nil
}

func expectParts(topic string, parts []string, n int) error {
	if len(parts) != n {
		return fmt.Errorf("%w: %q has %d segments, want %d", ErrMalformedTopic, topic, len(parts), n)
	}
	return nil
}
