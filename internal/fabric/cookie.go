package fabric

import "github.com/google/uuid"

// Cookie is a 128-bit session identifier shared by every message belonging
// to one client request or one synchronization session.
type Cookie [16]byte

// NewCookie mints a fresh random cookie.
func NewCookie() Cookie {
	return Cookie(uuid.New())
}

func (c Cookie) String() string {
	return uuid.UUID(c).String()
}
