// Package live fans committed changes out to subscribers. A subscriber gets the
// current snapshot first and then a full snapshot after every change.
package live

import (
	"context"
	"errors"
)

// ErrClosed is returned by a hub after Close.
var ErrClosed = errors.New("live hub closed")

type Hub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers payloads published to topic until ctx is done or the
	// subscription is closed.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

func RoleSectionTopic(id string) string {
	return "role_section:" + id
}

func WorkbookTopic(id string) string {
	return "workbook:" + id
}

// WorkbookPersonTopic carries the person's current active workbook, or null
// once there is none.
func WorkbookPersonTopic(tenantID, personID string) string {
	return "workbook_person:" + tenantID + ":" + personID
}
