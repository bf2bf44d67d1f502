package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/examutil"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// errorMapping pairs a domain error with its HTTP status and code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

var errorMappings = []errorMapping{
	{examutil.ErrTokenEmpty, http.StatusBadRequest, response.ErrEntryTokenEmpty},
	{examutil.ErrTokenInvalid, http.StatusBadRequest, response.ErrEntryTokenInvalid},
	{examutil.ErrNotStarted, http.StatusBadRequest, response.ErrTestNotStarted},
	{examutil.ErrEnded, http.StatusBadRequest, response.ErrTestEnded},
	{service.ErrScheduleNotFound, http.StatusNotFound, response.ErrScheduleNotFound},
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound},
	{service.ErrNotEnrolled, http.StatusForbidden, response.ErrNotEnrolled},
	{service.ErrAlreadyFinished, http.StatusConflict, response.ErrAlreadyFinished},
	{service.ErrScheduleNotOpen, http.StatusForbidden, response.ErrScheduleNotOpen},
	{service.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
	{service.ErrUnknownActivity, http.StatusBadRequest, response.ErrUnknownActivity},
	{service.ErrNoSessionUpdate, http.StatusBadRequest, response.ErrValidation},
	{service.ErrQuestionOutOfRange, http.StatusBadRequest, response.ErrQuestionOutOfRange},
	{service.ErrStrikeDecrease, http.StatusConflict, response.ErrStrikeDecrease},
	{service.ErrQuestionOrderFixed, http.StatusConflict, response.ErrQuestionOrderFixed},
	{store.ErrFieldNotAllowed, http.StatusBadRequest, response.ErrFieldNotAllowed},
	{store.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
	{store.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
}

// failWithError writes the response for a service error. Unmapped errors
// are logged and reported as internal.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.code)
			return
		}
	}
	l := response.RequestLogger(c, log)
	l.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}

// paramUUID parses a path parameter, writing a 400 when it is malformed.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
