package area

import (
	"fmt"

	"disgb/internal/spatial"
)

// BrokerInfo identifies a broker and the address its peers connect to
type BrokerInfo struct {
	BrokerID string `json:"brokerId" yaml:"broker_id"`
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
}

// Address returns the ZMQ TCP endpoint of the broker
func (b BrokerInfo) Address() string {
	return fmt.Sprintf("tcp://%s:%d", b.IP, b.Port)
}

// Validate checks the required fields
func (b BrokerInfo) Validate() error {
	if b.BrokerID == "" {
		return fmt.Errorf("brokerId is required")
	}
	if b.IP == "" {
		return fmt.Errorf("ip is required for broker %s", b.BrokerID)
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("port %d out of range for broker %s", b.Port, b.BrokerID)
	}
	return nil
}

func (b BrokerInfo) String() string {
	return fmt.Sprintf("%s@%s:%d", b.BrokerID, b.IP, b.Port)
}

// BrokerArea binds a covered area to the broker responsible for it
type BrokerArea struct {
	ResponsibleBroker BrokerInfo       `json:"responsibleBroker"`
	CoveredArea       spatial.Geofence `json:"coveredArea"`
}

// NewBrokerArea creates a broker area
func NewBrokerArea(broker BrokerInfo, covered spatial.Geofence) BrokerArea {
	return BrokerArea{ResponsibleBroker: broker, CoveredArea: covered}
}

// HasResponsibleBroker compares broker ids only
func (a BrokerArea) HasResponsibleBroker(brokerID string) bool {
	return a.ResponsibleBroker.BrokerID == brokerID
}

// ContainsLocation reports whether the covered area contains loc
func (a BrokerArea) ContainsLocation(loc spatial.Location) bool {
	return a.CoveredArea.Contains(loc)
}

// IntersectsGeofence reports whether the covered area overlaps fence
func (a BrokerArea) IntersectsGeofence(fence spatial.Geofence) bool {
	return a.CoveredArea.Intersects(fence)
}
