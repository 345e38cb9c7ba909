package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type walletRequest struct {
	UserID uint    `json:"user_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// Deposit handles adding funds to user wallet
func (a *API) Deposit(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ref string
	err := a.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		ref, err = a.Wallet.Deposit(tx, req.UserID, req.Amount)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference": ref, "amount": req.Amount})
}

// Withdraw handles user withdrawal
func (a *API) Withdraw(c *gin.Context) {
	var req walletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ref string
	err := a.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		ref, err = a.Wallet.Withdraw(tx, req.UserID, req.Amount)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference": ref, "amount": req.Amount})
}

// GetBalance returns the user's wallet balance.
func (a *API) GetBalance(c *gin.Context) {
	var req struct {
		UserID uint `form:"user_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := a.Wallet.GetBalance(a.DB, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "balance": balance})
}
