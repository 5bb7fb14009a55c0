package events

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
)

type Type string

const (
	CodeGenerated     Type = "pairing.code.generated"
	DeviceRegistered  Type = "device.registered"
	DeviceReconnected Type = "device.reconnected"
	DeviceRepaired    Type = "device.repaired"
	PairingCompleted  Type = "device.pairing.completed"
	PlaylistAssigned  Type = "device.playlist.assigned"
	DeviceControl     Type = "device.control"
	DeviceDeleted     Type = "device.deleted"
	DeviceOrphaned    Type = "device.orphaned"
)

// AccountExtension carries the owning account so subscribers can filter
// without decoding the payload.
const AccountExtension = "accountid"

// Build wraps payload in a CloudEvents 1.0 envelope.
func Build(source string, eventType Type, accountID, subject string, at time.Time, payload any) (event.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion(cloudevents.VersionV1)
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(string(eventType))
	e.SetTime(at)
	if subject != "" {
		e.SetSubject(subject)
	}
	e.SetExtension(AccountExtension, accountID)

	if err := e.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return e, fmt.Errorf("set event data: %w", err)
	}
	return e, nil
}
