package httpx

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/apperr"
)

type errorDTO struct {
	Error struct {
		Code    apperr.Code   `json:"code"`
		Reason  apperr.Reason `json:"reason,omitempty"`
		Message string        `json:"message"`
	} `json:"error"`
}

func ErrorBody(code apperr.Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// WriteError はエラーを JSON で返す。INTERNAL の詳細はログにだけ出す。
func WriteError(c *gin.Context, err error) {
	ae := apperr.From(err)
	status := apperr.ToHTTPStatus(ae)

	body := ErrorBody(ae.Code, ae.Message)
	body.Error.Reason = ae.Reason
	if ae.Code == apperr.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(CtxRequestIDKey),
			"error", err,
		)
		body.Error.Message = "internal error"
	}
	c.JSON(status, body)
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(400, ErrorBody(apperr.CodeInvalidArgument, msg))
}

func ParseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

// ParseBoolish は "1" / "true" / "yes" を true とみなす。
func ParseBoolish(s string) bool {
	switch s {
	case "1", "true", "TRUE", "True", "yes", "all":
		return true
	}
	return false
}
