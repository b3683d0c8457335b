package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"liblend/internal/models"
	"liblend/internal/services"
)

type Handler struct {
	rentals  services.RentalService
	requests services.RequestService
	notifs   services.NotificationService
	watches  services.WatchService
	sweep    services.SweepService
}

func RegisterRoutes(
	r *gin.Engine,
	rentals services.RentalService,
	requests services.RequestService,
	notifs services.NotificationService,
	watches services.WatchService,
	sweep services.SweepService,
) {
	h := &Handler{
		rentals:  rentals,
		requests: requests,
		notifs:   notifs,
		watches:  watches,
		sweep:    sweep,
	}

	// Catalog
	r.GET("/copies", h.listCopies)
	r.GET("/copies/grouped", h.groupedCatalog)
	r.GET("/copies/:label", h.getCopy)

	// Staff copy management
	r.POST("/copies", h.registerCopy)
	r.DELETE("/copies/:label", h.deleteCopy)
	r.POST("/copies/:label/relabel", h.relabelCopy)

	// Rental state machine
	r.POST("/copies/:label/request", h.requestLoan)
	r.POST("/copies/:label/approve", h.approveLoan)
	r.POST("/copies/:label/cancel", h.cancelRequest)
	r.POST("/copies/:label/return", h.returnCopy)
	r.GET("/users/:id/loans", h.listUserLoans)

	// Loan requests (cross-site / purchase)
	r.POST("/requests", h.createRequest)
	r.GET("/requests", h.listRequests)
	r.GET("/users/:id/requests", h.listUserRequests)
	r.POST("/requests/:id/approve", h.approveRequest)
	r.POST("/requests/:id/reject", h.rejectRequest)

	// Notifications
	r.GET("/users/:id/notifications", h.listNotifications)
	r.GET("/users/:id/notifications/unread-count", h.unreadCount)
	r.POST("/users/:id/notifications/read-all", h.markAllRead)
	r.POST("/users/:id/notifications/:nid/read", h.markRead)
	r.DELETE("/users/:id/notifications/:nid", h.deleteNotification)

	// Return watches
	r.POST("/watches", h.subscribeWatch)
	r.GET("/users/:id/watches", h.listWatches)

	// Scheduler entry point for deployments using an external scheduler
	// instead of the in-process cron.
	r.POST("/internal/sweep", h.runSweep)
}

// writeError maps domain errors onto HTTP statuses. Policy violations and
// lost races are expected outcomes (409), missing entities are 404, and
// everything else is a retryable dependency failure.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCopyNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, services.ErrCopyUnavailable),
		errors.Is(err, services.ErrDuplicateTitle),
		errors.Is(err, services.ErrLoanLimitReached),
		errors.Is(err, services.ErrNotOwner),
		errors.Is(err, services.ErrNotRented),
		errors.Is(err, services.ErrCopyInUse),
		errors.Is(err, services.ErrDuplicateLabel),
		errors.Is(err, services.ErrRequestDecided),
		errors.Is(err, services.ErrDuplicateWatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, please retry"})
	}
}

// actorRequest carries the acting user's identity, as supplied by the
// session layer in front of this service.
type actorRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

func parseActor(c *gin.Context) (uuid.UUID, bool) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

func (h *Handler) listCopies(c *gin.Context) {
	copies, err := h.rentals.ListCopies(c.Query("site"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copies)
}

func (h *Handler) groupedCatalog(c *gin.Context) {
	groups, err := h.rentals.GroupedCatalog(c.Query("site"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) getCopy(c *gin.Context) {
	copy, err := h.rentals.GetCopy(c.Param("label"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

// ─── Staff Copy Management ────────────────────────────────────────────────────

type registerCopyRequest struct {
	Category      string `json:"category" binding:"required"`
	Site          string `json:"site" binding:"required"`
	Sequence      string `json:"sequence" binding:"required"`
	TitleKey      string `json:"title_key" binding:"required"`
	Title         string `json:"title" binding:"required"`
	Author        string `json:"author"`
	Publisher     string `json:"publisher"`
	CoverURL      string `json:"cover_url"`
	ShelfLocation string `json:"shelf_location"`
	UserID        string `json:"user_id" binding:"required,uuid"`
}

func (h *Handler) registerCopy(c *gin.Context) {
	var req registerCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	staffID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	copy, err := h.rentals.RegisterCopy(services.RegisterCopyInput{
		Category:      req.Category,
		Site:          req.Site,
		Sequence:      req.Sequence,
		TitleKey:      req.TitleKey,
		Title:         req.Title,
		Author:        req.Author,
		Publisher:     req.Publisher,
		CoverURL:      req.CoverURL,
		ShelfLocation: req.ShelfLocation,
		RegisteredBy:  staffID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, copy)
}

func (h *Handler) deleteCopy(c *gin.Context) {
	staffID, ok := parseActor(c)
	if !ok {
		return
	}
	if err := h.rentals.DeleteCopy(c.Param("label"), staffID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type relabelRequest struct {
	Category string `json:"category" binding:"required"`
	Sequence string `json:"sequence" binding:"required"`
	UserID   string `json:"user_id" binding:"required,uuid"`
}

func (h *Handler) relabelCopy(c *gin.Context) {
	var req relabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	staffID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	copy, err := h.rentals.Relabel(c.Param("label"), req.Category, req.Sequence, staffID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

// ─── Rental State Machine ─────────────────────────────────────────────────────

func (h *Handler) requestLoan(c *gin.Context) {
	userID, ok := parseActor(c)
	if !ok {
		return
	}
	copy, err := h.rentals.RequestLoan(c.Param("label"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

func (h *Handler) approveLoan(c *gin.Context) {
	userID, ok := parseActor(c)
	if !ok {
		return
	}
	copy, err := h.rentals.ApproveLoan(c.Param("label"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

func (h *Handler) cancelRequest(c *gin.Context) {
	userID, ok := parseActor(c)
	if !ok {
		return
	}
	copy, err := h.rentals.CancelRequest(c.Param("label"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

func (h *Handler) returnCopy(c *gin.Context) {
	actorID, ok := parseActor(c)
	if !ok {
		return
	}
	copy, err := h.rentals.ReturnCopy(c.Param("label"), actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, copy)
}

func (h *Handler) listUserLoans(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	loans, err := h.rentals.ListUserLoans(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

// ─── Loan Requests ────────────────────────────────────────────────────────────

type createRequestRequest struct {
	TitleKey  string `json:"title_key" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Author    string `json:"author"`
	Publisher string `json:"publisher"`
	CoverURL  string `json:"cover_url"`
	Site      string `json:"site" binding:"required"`
	UserID    string `json:"user_id" binding:"required,uuid"`
}

func (h *Handler) createRequest(c *gin.Context) {
	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	created, err := h.requests.Create(services.CreateRequestInput{
		TitleKey:    req.TitleKey,
		Title:       req.Title,
		Author:      req.Author,
		Publisher:   req.Publisher,
		CoverURL:    req.CoverURL,
		Site:        req.Site,
		RequestedBy: userID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listRequests(c *gin.Context) {
	site := c.Query("site")
	if site == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site query parameter is required"})
		return
	}
	reqs, err := h.requests.ListBySite(site, models.RequestStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) listUserRequests(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	reqs, err := h.requests.ListByUser(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) approveRequest(c *gin.Context) {
	h.decideRequest(c, h.requests.Approve)
}

func (h *Handler) rejectRequest(c *gin.Context) {
	h.decideRequest(c, h.requests.Reject)
}

func (h *Handler) decideRequest(c *gin.Context, decide func(id, staffID uuid.UUID) (*models.LoanRequest, error)) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	staffID, ok := parseActor(c)
	if !ok {
		return
	}
	decided, err := decide(id, staffID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decided)
}

// ─── Notifications ────────────────────────────────────────────────────────────

func (h *Handler) listNotifications(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.notifs.List(userID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) unreadCount(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	count, err := h.notifs.UnreadCount(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *Handler) markRead(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	notifID, ok := parseIDParam(c, "nid")
	if !ok {
		return
	}
	if err := h.notifs.MarkRead(userID, notifID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllRead(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.notifs.MarkAllRead(userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteNotification(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	notifID, ok := parseIDParam(c, "nid")
	if !ok {
		return
	}
	if err := h.notifs.Delete(userID, notifID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Return Watches ───────────────────────────────────────────────────────────

type subscribeWatchRequest struct {
	TitleKey string `json:"title_key" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Site     string `json:"site" binding:"required"`
	UserID   string `json:"user_id" binding:"required,uuid"`
}

func (h *Handler) subscribeWatch(c *gin.Context) {
	var req subscribeWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	watch, err := h.watches.Subscribe(userID, req.TitleKey, req.Title, req.Site)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, watch)
}

func (h *Handler) listWatches(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	watches, err := h.watches.ListActive(userID, c.Query("site"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, watches)
}

// ─── Sweep ────────────────────────────────────────────────────────────────────

func (h *Handler) runSweep(c *gin.Context) {
	if err := h.sweep.RunSweep(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
