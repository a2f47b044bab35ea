package client

import (
	"errors"

	"github.com/mdp2021s129-bot/hdcomm/router"
)

var (
	// ErrDisconnected: the router shut down before the reply arrived, or
	// before the call could be registered.
	ErrDisconnected = router.ErrDisconnected
	// ErrTooManyInFlight: the next id is still held by an unresolved call,
	// which means 65536 calls are outstanding.
	ErrTooManyInFlight = router.ErrTooManyInFlight
	// ErrBadResponse: the device answered with a payload that does not match
	// the request. The link itself is fine.
	ErrBadResponse = errors.New("client: unexpected response payload")
)
