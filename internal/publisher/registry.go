package publisher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
)

// ErrUnknownService is returned when a handle does not refer to a service
// the registry created.
var ErrUnknownService = errors.New("publisher: unknown service")

// ServiceHandle identifies one registry service.
type ServiceHandle struct {
	DeviceID string
	Kind     string
}

// Registry is the host capability registry. The publisher only writes to
// it; logic state never reads back from the registry.
type Registry interface {
	GetOrCreateService(deviceID, kind string) (ServiceHandle, error)
	SetCharacteristic(handle ServiceHandle, name string, value any) error
	RemoveService(handle ServiceHandle) error
}

// RetainedPublisher is the subset of the MQTT client used by MQTTRegistry.
type RetainedPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// serviceDescriptor is the retained payload of a service topic.
type serviceDescriptor struct {
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
}

// MQTTRegistry stores services and characteristic values as retained MQTT
// messages. Characteristics written to a service are tracked so
// RemoveService can clear every topic it created.
type MQTTRegistry struct {
	client RetainedPublisher
	qos    byte

	mu       sync.Mutex
	services map[ServiceHandle]map[string]struct{}
}

// NewMQTTRegistry creates a registry over client.
func NewMQTTRegistry(client RetainedPublisher, qos byte) *MQTTRegistry {
	return &MQTTRegistry{
		client:   client,
		qos:      qos,
		services: make(map[ServiceHandle]map[string]struct{}),
	}
}

// GetOrCreateService publishes the service descriptor the first time a
// service is seen.
func (r *MQTTRegistry) GetOrCreateService(deviceID, kind string) (ServiceHandle, error) {
	h := ServiceHandle{DeviceID: deviceID, Kind: kind}

	r.mu.Lock()
	_, exists := r.services[h]
	r.mu.Unlock()
	if exists {
		return h, nil
	}

	payload, err := json.Marshal(serviceDescriptor{DeviceID: deviceID, Kind: kind})
	if err != nil {
		return ServiceHandle{}, fmt.Errorf("marshal service descriptor: %w", err)
	}
	if err := r.client.Publish(mqtt.Topics{}.DeviceService(deviceID, kind), payload, r.qos, true); err != nil {
		return ServiceHandle{}, fmt.Errorf("create service %s/%s: %w", deviceID, kind, err)
	}

	r.mu.Lock()
	if _, ok := r.services[h]; !ok {
		r.services[h] = make(map[string]struct{})
	}
	r.mu.Unlock()
	return h, nil
}

// SetCharacteristic publishes one retained characteristic value.
func (r *MQTTRegistry) SetCharacteristic(handle ServiceHandle, name string, value any) error {
	r.mu.Lock()
	chars, ok := r.services[handle]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownService, handle.DeviceID, handle.Kind)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	topic := mqtt.Topics{}.DeviceCharacteristic(handle.DeviceID, handle.Kind, name)
	if err := r.client.Publish(topic, payload, r.qos, true); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	r.mu.Lock()
	chars[name] = struct{}{}
	r.mu.Unlock()
	return nil
}

// RemoveService clears the service descriptor and every characteristic
// topic written for it.
func (r *MQTTRegistry) RemoveService(handle ServiceHandle) error {
	r.mu.Lock()
	chars, ok := r.services[handle]
	delete(r.services, handle)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownService, handle.DeviceID, handle.Kind)
	}

	var errs []error
	for name := range chars {
		topic := mqtt.Topics{}.DeviceCharacteristic(handle.DeviceID, handle.Kind, name)
		if err := r.client.Publish(topic, nil, r.qos, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.client.Publish(mqtt.Topics{}.DeviceService(handle.DeviceID, handle.Kind), nil, r.qos, true); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Services returns the number of services currently registered.
func (r *MQTTRegistry) Services() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// compile-time check
var _ Registry = (*MQTTRegistry)(nil)

