package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/logging"
)

func TestParseMeasure(t *testing.T) {
	v := try.To1(parseMeasure(" 1.5 -2\t42 "))
	assert.Equal(v, [3]float64{1.5, -2, 42})

	_, err := parseMeasure("1 2")
	assert.That(err == errMeasureFields)
	_, err = parseMeasure("1 2 x")
	assert.That(err != nil)
}

func TestLoggerFactory(t *testing.T) {
	lf := try.To1(newLoggerFactory("DEBUG"))
	dlf := lf.(*logging.DefaultLoggerFactory)
	assert.Equal(dlf.ScopeLevels["dclink"], logging.LogLevelDebug)
	assert.Equal(dlf.DefaultLogLevel, logging.LogLevelInfo)

	lf = try.To1(newLoggerFactory("error"))
	assert.Equal(lf.(*logging.DefaultLoggerFactory).DefaultLogLevel, logging.LogLevelError)

	_, err := newLoggerFactory("loud")
	assert.That(err != nil)
}

func TestRequestLogger(t *testing.T) {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	r := chi.NewRouter()
	r.Use(requestLogger(lf.NewLogger("http")))
	r.Get("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(w.Code, http.StatusTeapot)
}
