package registry

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Routes serves
//
//	PUT    /measure/{id}  subscribe to measures      201
//	DELETE /measure/{id}  unsubscribe                204
//	PUT    /control/{id}  take control               200
//	DELETE /control/{id}  release control            200
//	GET    /events        status event stream
//
// Any refused change answers 400.
func (r *Registry) Routes() chi.Router {
	router := chi.NewRouter()
	router.Put("/measure/{id}", r.handle(r.Subscribe, http.StatusCreated))
	router.Delete("/measure/{id}", r.handle(r.Unsubscribe, http.StatusNoContent))
	router.Put("/control/{id}", r.handle(r.TakeControl, http.StatusOK))
	router.Delete("/control/{id}", r.handle(r.ReleaseControl, http.StatusOK))
	router.Get("/events", r.events.Handler(StatusChannel))
	return router
}

func (r *Registry) handle(op func(id uint32) error, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(req, "id"), 10, 32)
		if err != nil {
			http.Error(w, "bad client id", http.StatusBadRequest)
			return
		}
		if err := op(uint32(id)); err != nil {
			r.log.Debugf("%s %s refused: %v", req.Method, req.URL.Path, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
	}
}
