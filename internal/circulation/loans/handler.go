package loans

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/httpx"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 一覧系は :id より先に登録する
	r.GET("/borrows/active", h.ListActive)
	r.GET("/borrows/history", h.ListHistory)
	r.GET("/borrows/overdue", auth.RequireRole(auth.RoleAdmin), h.ListOverdue)
	r.GET("/borrows/:id", h.GetLoan)

	// 貸出・返却（書籍単位）
	r.POST("/borrows/:id", h.Borrow)
	r.POST("/borrows/:id/return", h.Return)
}

// ---------- handlers ----------

func (h *Handler) Borrow(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.Borrow(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.Header("Location", "/borrows/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Return(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.ReturnLoan(c.Request.Context(), p, c.Param("id"), c.Query("user_id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetLoan(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.GetLoan(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListActive(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.ListActive(c.Request.Context(), p, c.Query("user_id"), httpx.ParseBoolish(c.Query("all")), pageFrom(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListHistory(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.ListHistory(c.Request.Context(), p, c.Query("user_id"), pageFrom(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListOverdue(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	res, err := h.svc.ListOverdue(c.Request.Context(), p, pageFrom(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

func pageFrom(c *gin.Context) Page {
	return Page{
		Limit:  httpx.ParseIntDefault(c.Query("limit"), 50),
		Offset: httpx.ParseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
}
