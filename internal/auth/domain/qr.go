package domain

import (
	"errors"
	"fmt"
	"time"
)

// QRStatus is the state of a cross-device QR login. The zero value is not a
// valid status.
type QRStatus uint8

const (
	QRPending QRStatus = iota + 1
	QRAuthenticated
	QRExpired
	QRCancelled

	// QRNotFound is never stored; lookups of unknown or swept sessions
	// report it.
	QRNotFound
)

var qrStatusNames = map[QRStatus]string{
	QRPending:       "pending",
	QRAuthenticated: "authenticated",
	QRExpired:       "expired",
	QRCancelled:     "cancelled",
	QRNotFound:      "not_found",
}

func (s QRStatus) String() string {
	if n, ok := qrStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("QRStatus(%d)", uint8(s))
}

func ParseQRStatus(s string) (QRStatus, error) {
	for st, name := range qrStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown qr status %q", s)
}

func (s QRStatus) MarshalText() ([]byte, error) {
	if _, ok := qrStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid qr status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *QRStatus) UnmarshalText(b []byte) error {
	st, err := ParseQRStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Terminal reports whether no further transition is possible.
func (s QRStatus) Terminal() bool {
	return s != QRPending
}

// QREvent drives the QR session state machine.
type QREvent uint8

const (
	QREventApprove QREvent = iota + 1
	QREventExpire
	QREventCancel
)

var ErrInvalidQRTransition = errors.New("invalid qr session transition")

// Next returns the status reached by applying ev. Only pending sessions move.
func (s QRStatus) Next(ev QREvent) (QRStatus, error) {
	if s != QRPending {
		return s, fmt.Errorf("%w: %s is terminal", ErrInvalidQRTransition, s)
	}
	switch ev {
	case QREventApprove:
		return QRAuthenticated, nil
	case QREventExpire:
		return QRExpired, nil
	case QREventCancel:
		return QRCancelled, nil
	default:
		return s, fmt.Errorf("%w: unknown event %d", ErrInvalidQRTransition, ev)
	}
}

type QRSession struct {
	ID              string // UUIDv4
	TokenHash       string
	DeviceInfo      string
	Status          QRStatus
	UserID          string // set once authenticated
	AuthenticatedAt *time.Time
	ClaimedAt       *time.Time // tokens handed to the initiator
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// StatusAt is the status an observer sees at now: a pending session past its
// expiry reads as expired even before anything persisted that.
func (q *QRSession) StatusAt(now time.Time) QRStatus {
	if q.Status == QRPending && !now.Before(q.ExpiresAt) {
		return QRExpired
	}
	return q.Status
}
