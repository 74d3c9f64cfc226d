package curve

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"

	"curvescan/internal/model"
)

// programDataMarker prefixes the base64 event payload inside a log line.
const programDataMarker = "Program data: "

// createEventDiscriminator is the fixed 8-byte prefix identifying a
// bonding-curve create event in the shared log stream.
var createEventDiscriminator = [8]byte{27, 114, 169, 77, 222, 235, 99, 118}

// ErrNotCreateEvent marks a log line that does not carry a create event.
// This is the expected high-frequency outcome and is never logged.
var ErrNotCreateEvent = errors.New("not a create event")

// TryDecodeCreateEvent inspects one raw log line and decodes the create
// event it carries, if any. ErrNotCreateEvent covers the absent-marker,
// bad-base64, short-payload, and foreign-discriminator cases. Any other
// error means the discriminator matched but the payload is malformed; the
// caller should log it and skip the line, never crash.
func TryDecodeCreateEvent(line string) (*model.CreateEvent, error) {
	idx := strings.Index(line, programDataMarker)
	if idx < 0 {
		return nil, ErrNotCreateEvent
	}

	encoded := strings.TrimSpace(line[idx+len(programDataMarker):])
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrNotCreateEvent
	}
	if len(raw) < len(createEventDiscriminator) {
		return nil, ErrNotCreateEvent
	}
	if !bytes.Equal(raw[:len(createEventDiscriminator)], createEventDiscriminator[:]) {
		return nil, ErrNotCreateEvent
	}

	var event model.CreateEvent
	if err := bin.UnmarshalBorsh(&event, raw[len(createEventDiscriminator):]); err != nil {
		return nil, fmt.Errorf("decode create event: %w", err)
	}

	return &event, nil
}

// EncodeCreateEventLog renders an event back into a subscription-shaped log
// line. Used to build fixtures; the live path only ever decodes.
func EncodeCreateEventLog(event *model.CreateEvent) (string, error) {
	payload, err := bin.MarshalBorsh(event)
	if err != nil {
		return "", fmt.Errorf("encode create event: %w", err)
	}
	raw := append(append([]byte{}, createEventDiscriminator[:]...), payload...)
	return programDataMarker + base64.StdEncoding.EncodeToString(raw), nil
}
