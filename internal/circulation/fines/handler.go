package fines

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/httpx"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/fines", h.ListFines)
	r.POST("/fines/:fine_id/pay", h.PayFine)
	// 手動実行。定期実行と重なっても二重作成されない
	r.POST("/fines/calculate", auth.RequireRole(auth.RoleAdmin), h.Calculate)
}

func (h *Handler) ListFines(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var st Status
	if v := c.Query("status"); v != "" {
		parsed, ok := ParseStatus(v)
		if !ok {
			httpx.BadRequest(c, "status must be pending or paid")
			return
		}
		st = parsed
	}
	pg := Page{
		Limit:  httpx.ParseIntDefault(c.Query("limit"), 50),
		Offset: httpx.ParseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	res, err := h.svc.ListFines(c.Request.Context(), p, c.Query("user_id"), st, pg)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) PayFine(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.PayFine(c.Request.Context(), p, c.Param("fine_id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Calculate(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	rep, err := h.svc.CalculateFines(c.Request.Context(), p)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
