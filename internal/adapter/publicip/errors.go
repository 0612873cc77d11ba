package publicip

import (
	"errors"
	"fmt"
)

var errNotIPv4 = errors.New("not an ipv4 address")

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }
