package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pipeline/internal/accounts"
	"pipeline/internal/credits"
	"pipeline/internal/database"
)

// UserHandler serves the signed-in user's own account, credits and referrals.
type UserHandler struct {
	db       *gorm.DB
	accounts *accounts.Service
	ledger   *credits.Ledger
}

func NewUserHandler(db *gorm.DB, accountsSvc *accounts.Service, ledger *credits.Ledger) *UserHandler {
	return &UserHandler{db: db, accounts: accountsSvc, ledger: ledger}
}

func (h *UserHandler) current(c *gin.Context) (*database.User, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	user, err := h.accounts.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return user, true
}

func (h *UserHandler) balance(c *gin.Context, user *database.User) (credits.Balance, error) {
	loc := h.ledger.Location(user, c.GetHeader(timezoneHeader))
	return h.ledger.Balance(c.Request.Context(), h.db, user, loc)
}

// Me GET /api/user
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := h.current(c)
	if !ok {
		return
	}
	balance, err := h.balance(c, user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "credits": balance})
}

// Credits GET /api/user/credits
func (h *UserHandler) Credits(c *gin.Context) {
	user, ok := h.current(c)
	if !ok {
		return
	}
	balance, err := h.balance(c, user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// Referral GET /api/user/referral
func (h *UserHandler) Referral(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	summary, err := h.accounts.Referrals(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type updateSelfRequest struct {
	Timezone *string `json:"timezone" binding:"required"`
}

// Update PATCH /api/user，普通用户只能修改自己的时区。
func (h *UserHandler) Update(c *gin.Context) {
	var req updateSelfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	user, err := h.accounts.Update(c.Request.Context(), userID, accounts.Patch{Timezone: req.Timezone})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
