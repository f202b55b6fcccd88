package message

import (
	"fmt"

	"disgb/internal/area"
	"disgb/internal/spatial"
)

// Payload is the typed body of an envelope
type Payload interface {
	PacketType() PacketType
	Validate() error
}

// Topic is a publish/subscribe topic
type Topic struct {
	Topic string `json:"topic"`
}

func (t Topic) validate() error {
	if t.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

func validateReasonCode(r ReasonCode) error {
	if !r.Valid() {
		return fmt.Errorf("invalid reason code %q", r)
	}
	return nil
}

func validateOptionalLocation(loc *spatial.Location) error {
	if loc == nil {
		return nil
	}
	return loc.Validate()
}

func validateFence(g spatial.Geofence) error {
	if g.IsUnbounded() {
		return nil
	}
	return g.Center.Validate()
}

func validateClient(id string) error {
	if id == "" {
		return fmt.Errorf("clientIdentifier is required")
	}
	return nil
}

type ConnectPayload struct {
	Location *spatial.Location `json:"location"`
}

func (ConnectPayload) PacketType() PacketType { return CONNECT }
func (p ConnectPayload) Validate() error      { return validateOptionalLocation(p.Location) }

type ConnackPayload struct {
	ReasonCode ReasonCode `json:"reasonCode"`
}

func (ConnackPayload) PacketType() PacketType { return CONNACK }
func (p ConnackPayload) Validate() error      { return validateReasonCode(p.ReasonCode) }

// DisconnectPayload optionally names the broker the client should reconnect to
type DisconnectPayload struct {
	ReasonCode ReasonCode       `json:"reasonCode"`
	BrokerInfo *area.BrokerInfo `json:"brokerInfo,omitempty"`
}

func (DisconnectPayload) PacketType() PacketType { return DISCONNECT }
func (p DisconnectPayload) Validate() error {
	if err := validateReasonCode(p.ReasonCode); err != nil {
		return err
	}
	if p.BrokerInfo != nil {
		return p.BrokerInfo.Validate()
	}
	return nil
}

type PingreqPayload struct {
	Location *spatial.Location `json:"location"`
}

func (PingreqPayload) PacketType() PacketType { return PINGREQ }
func (p PingreqPayload) Validate() error      { return validateOptionalLocation(p.Location) }

type PingrespPayload struct {
	ReasonCode ReasonCode `json:"reasonCode"`
}

func (PingrespPayload) PacketType() PacketType { return PINGRESP }
func (p PingrespPayload) Validate() error      { return validateReasonCode(p.ReasonCode) }

type SubscribePayload struct {
	Topic    Topic            `json:"topic"`
	Geofence spatial.Geofence `json:"geofence"`
}

func (SubscribePayload) PacketType() PacketType { return SUBSCRIBE }
func (p SubscribePayload) Validate() error {
	if err := p.Topic.validate(); err != nil {
		return err
	}
	return validateFence(p.Geofence)
}

type SubackPayload struct {
	ReasonCode ReasonCode `json:"reasonCode"`
}

func (SubackPayload) PacketType() PacketType { return SUBACK }
func (p SubackPayload) Validate() error      { return validateReasonCode(p.ReasonCode) }

type UnsubscribePayload struct {
	Topic Topic `json:"topic"`
}

func (UnsubscribePayload) PacketType() PacketType { return UNSUBSCRIBE }
func (p UnsubscribePayload) Validate() error      { return p.Topic.validate() }

type UnsubackPayload struct {
	ReasonCode ReasonCode `json:"reasonCode"`
}

func (UnsubackPayload) PacketType() PacketType { return UNSUBACK }
func (p UnsubackPayload) Validate() error      { return validateReasonCode(p.ReasonCode) }

// PublishPayload is a message published into a geofence
type PublishPayload struct {
	Topic    Topic            `json:"topic"`
	Geofence spatial.Geofence `json:"geofence"`
	Content  string           `json:"content"`
}

func (PublishPayload) PacketType() PacketType { return PUBLISH }
func (p PublishPayload) Validate() error {
	if err := p.Topic.validate(); err != nil {
		return err
	}
	return validateFence(p.Geofence)
}

type PubackPayload struct {
	ReasonCode ReasonCode `json:"reasonCode"`
}

func (PubackPayload) PacketType() PacketType { return PUBACK }
func (p PubackPayload) Validate() error      { return validateReasonCode(p.ReasonCode) }

type BrokerForwardDisconnectPayload struct {
	ClientIdentifier  string            `json:"clientIdentifier"`
	DisconnectPayload DisconnectPayload `json:"disconnectPayload"`
}

func (BrokerForwardDisconnectPayload) PacketType() PacketType { return BrokerForwardDisconnect }
func (p BrokerForwardDisconnectPayload) Validate() error {
	if err := validateClient(p.ClientIdentifier); err != nil {
		return err
	}
	return p.DisconnectPayload.Validate()
}

type BrokerForwardPingreqPayload struct {
	ClientIdentifier string         `json:"clientIdentifier"`
	PingreqPayload   PingreqPayload `json:"pingreqPayload"`
}

func (BrokerForwardPingreqPayload) PacketType() PacketType { return BrokerForwardPingreq }
func (p BrokerForwardPingreqPayload) Validate() error {
	if err := validateClient(p.ClientIdentifier); err != nil {
		return err
	}
	return p.PingreqPayload.Validate()
}

type BrokerForwardSubscribePayload struct {
	ClientIdentifier string           `json:"clientIdentifier"`
	SubscribePayload SubscribePayload `json:"subscribePayload"`
}

func (BrokerForwardSubscribePayload) PacketType() PacketType { return BrokerForwardSubscribe }
func (p BrokerForwardSubscribePayload) Validate() error {
	if err := validateClient(p.ClientIdentifier); err != nil {
		return err
	}
	return p.SubscribePayload.Validate()
}

type BrokerForwardUnsubscribePayload struct {
	ClientIdentifier   string             `json:"clientIdentifier"`
	UnsubscribePayload UnsubscribePayload `json:"unsubscribePayload"`
}

func (BrokerForwardUnsubscribePayload) PacketType() PacketType { return BrokerForwardUnsubscribe }
func (p BrokerForwardUnsubscribePayload) Validate() error {
	if err := validateClient(p.ClientIdentifier); err != nil {
		return err
	}
	return p.UnsubscribePayload.Validate()
}

// BrokerForwardPublishPayload carries a publish from the broker its publisher is connected to.
// PublisherLocation is nil when the forwarding broker did not know it.
type BrokerForwardPublishPayload struct {
	PublishPayload    PublishPayload    `json:"publishPayload"`
	PublisherLocation *spatial.Location `json:"publisherLocation"`
}

func (BrokerForwardPublishPayload) PacketType() PacketType { return BrokerForwardPublish }
func (p BrokerForwardPublishPayload) Validate() error {
	if err := p.PublishPayload.Validate(); err != nil {
		return err
	}
	return validateOptionalLocation(p.PublisherLocation)
}
