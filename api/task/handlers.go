// Package task exposes the user-facing task endpoints: start, status, list,
// cancel and the live event stream.
package task

import (
	"github.com/jcoop32/applied/dispatch"
)

type Handlers struct {
	router    *dispatch.Router
	canceller *dispatch.Canceller
}

func NewHandlers(router *dispatch.Router, canceller *dispatch.Canceller) *Handlers {
	return &Handlers{router: router, canceller: canceller}
}
