package dispatcher

import (
	"net/http"

	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/errors"
)

// publish logs err and sends the error page.
func (d *Dispatcher) publish(w http.ResponseWriter, r *http.Request, routing controller.Routing, requestID string, err error) {
	err = errors.WithStack(err)
	kind := errors.KindOf(err)
	status := errors.StatusCode(err)

	d.logger.Error(r.Context(), err, "dispatch failed",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"controller", routing.ControllerName,
		"action", routing.ActionName,
		"module", routing.Module,
		"kind", string(kind),
		"status", status,
	)

	if d.recorder != nil {
		d.recorder.ObserveError(string(kind))
	}

	errors.NewPage(err, d.reporting).Write(w)
}
