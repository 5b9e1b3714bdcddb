// Package controller provides the HTTP handlers of the account API.
package controller

import (
	"net/http"

	"github.com/mhsanaei/xray-daemon/database/model"
	"github.com/mhsanaei/xray-daemon/web/entity"
	"github.com/mhsanaei/xray-daemon/web/service"

	"github.com/gin-gonic/gin"
)

// AccountController manages the accounts of one inbound at a time.
type AccountController struct {
	accountService *service.AccountService
}

func NewAccountController(g *gin.RouterGroup, accountService *service.AccountService) *AccountController {
	a := &AccountController{accountService: accountService}
	a.initRouter(g)
	return a
}

func (a *AccountController) initRouter(g *gin.RouterGroup) {
	g.POST("/:inbound_tag", a.createAccount)
	g.GET("/:inbound_tag", a.getAccounts)
	g.GET("/:inbound_tag/:email", a.getAccount)
	g.PATCH("/:inbound_tag/:email", a.updateAccount)
	g.DELETE("/:inbound_tag/:email", a.deleteAccount)
}

func (a *AccountController) createAccount(c *gin.Context) {
	req := &entity.CreateAccountRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		pureJsonMsg(c, http.StatusBadRequest, false, "invalid request body: "+err.Error())
		return
	}
	account, err := a.accountService.CreateAccount(c.Request.Context(), c.Param("inbound_tag"), req)
	if err != nil {
		jsonMsgObj(c, "create account", account, err)
		return
	}
	jsonObj(c, http.StatusCreated, account)
}

func (a *AccountController) getAccounts(c *gin.Context) {
	accounts, err := a.accountService.GetInboundAccounts(c.Param("inbound_tag"))
	if err != nil {
		jsonMsg(c, "list accounts", err)
		return
	}
	jsonObj(c, http.StatusOK, accounts)
}

func (a *AccountController) getAccount(c *gin.Context) {
	account, err := a.accountService.GetAccount(c.Param("inbound_tag"), c.Param("email"))
	if err != nil {
		jsonMsg(c, "get account", err)
		return
	}
	jsonObj(c, http.StatusOK, account)
}

func (a *AccountController) updateAccount(c *gin.Context) {
	update := model.AccountUpdate{}
	if err := c.ShouldBindJSON(&update); err != nil {
		pureJsonMsg(c, http.StatusBadRequest, false, "invalid request body: "+err.Error())
		return
	}
	if err := a.accountService.PatchAccount(c.Param("inbound_tag"), c.Param("email"), update); err != nil {
		jsonMsg(c, "update account", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *AccountController) deleteAccount(c *gin.Context) {
	if err := a.accountService.DeleteAccount(c.Request.Context(), c.Param("inbound_tag"), c.Param("email")); err != nil {
		jsonMsg(c, "delete account", err)
		return
	}
	c.Status(http.StatusNoContent)
}
