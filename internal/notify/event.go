// Package notify drains the durable notification queue and delivers
// monitoring state changes to subscribed chat users.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

// ErrMalformedRecord marks a queue payload that cannot be decoded. Such
// records are dropped rather than retried so a poison record cannot
// block the queue.
var ErrMalformedRecord = errors.New("notify: malformed record payload")

const eventFieldCount = 8

// Event is one monitoring state change awaiting delivery. The wire
// payload is eight ";"-separated fields; check output comes last so it
// may itself contain ";".
type Event struct {
	Channel            settings.Channel
	SourceIP           string
	Host               string
	Hostgroup          string
	ServiceDescription string
	PreviousState      string
	NewState           string
	CheckOutput        string
}

// IsServiceEvent reports whether the event concerns a service rather
// than the host itself.
func (e Event) IsServiceEvent() bool {
	return strings.TrimSpace(e.ServiceDescription) != ""
}

func DecodeEvent(payload string) (Event, error) {
	fields := strings.SplitN(payload, ";", eventFieldCount)
	if len(fields) != eventFieldCount {
		return Event{}, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedRecord, len(fields), eventFieldCount)
	}
	channel, err := settings.ParseChannel(fields[0])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Event{
		Channel:            channel,
		SourceIP:           fields[1],
		Host:               fields[2],
		Hostgroup:          fields[3],
		ServiceDescription: fields[4],
		PreviousState:      fields[5],
		NewState:           fields[6],
		CheckOutput:        fields[7],
	}, nil
}

// EncodeEvent renders an event in wire layout. Fields other than the
// check output must not contain ";".
func EncodeEvent(e Event) (string, error) {
	head := []string{
		string(e.Channel),
		e.SourceIP,
		e.Host,
		e.Hostgroup,
		e.ServiceDescription,
		e.PreviousState,
		e.NewState,
	}
	for _, field := range head {
		if strings.Contains(field, ";") {
			return "", fmt.Errorf("notify: field %q must not contain %q", field, ";")
		}
	}
	return strings.Join(append(head, e.CheckOutput), ";"), nil
}
