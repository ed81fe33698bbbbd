package binding

import "errors"

var (
	// ErrAlreadyInvalidated is returned by a Handle after Invalidate.
	ErrAlreadyInvalidated = errors.New("binding: session already invalidated")

	// ErrNoSession is returned when an operation needs a bound session and
	// the request has none.
	ErrNoSession = errors.New("binding: no session bound to request")

	// ErrResponseCommitted is returned when a session would be created
	// after the response headers were sent and the id travels in a cookie.
	ErrResponseCommitted = errors.New("binding: cannot create a session after the response has been committed")

	// ErrNoBinding is returned by helpers that find no binding in the
	// request context.
	ErrNoBinding = errors.New("binding: no binding in context (middleware not used?)")
)
