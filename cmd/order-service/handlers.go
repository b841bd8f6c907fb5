package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/MikeMC777/tienda-ordenes/docs"
	"github.com/MikeMC777/tienda-ordenes/internal/httpx"
	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
	ord "github.com/MikeMC777/tienda-ordenes/internal/order"
)

const idempotencyHeader = "Idempotency-Key"

type routerDeps struct {
	svc     *ord.Service
	auth    *httpx.Auth
	log     *zap.Logger
	metrics *metrics.Collectors
	gather  prometheus.Gatherer
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(d.log), httpx.Metrics(d.metrics))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if d.gather != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.gather)))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	customer := r.Group("/orders", d.auth.RequireCustomer())
	customer.POST("", createOrderHandler(d.svc))
	customer.GET("", listOrdersHandler(d.svc))
	customer.GET("/:id", getOrderHandler(d.svc))

	admin := r.Group("/admin", d.auth.RequireAdmin())
	admin.POST("/sales", createSaleHandler(d.svc))
	admin.GET("/orders", listOrdersHandler(d.svc))
	admin.GET("/orders/:id", getOrderHandler(d.svc))
	admin.POST("/orders/:id/transitions", transitionHandler(d.svc))

	return r
}

// createOrderHandler godoc
// @Summary  Create an order for the authenticated customer
// @Tags     orders
// @Router   /orders [post]
func createOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		who := httpx.IdentityFrom(c)
		in, err := req.ToInput(who.UserID, c.GetHeader(idempotencyHeader))
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		o, err := svc.CreateOrder(c.Request.Context(), in)
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// createSaleHandler godoc
// @Summary  Record a guest sale
// @Tags     admin
// @Router   /admin/sales [post]
func createSaleHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.GuestSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		in, err := req.ToInput(c.GetHeader(idempotencyHeader))
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		o, err := svc.CreateGuestSale(c.Request.Context(), in)
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

func transitionHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		target, expected := req.Target()
		o, err := svc.TransitionOrder(c.Request.Context(), c.Param("id"), target, expected)
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func getOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.GetOrder(c.Request.Context(), c.Param("id"), httpx.IdentityFrom(c))
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// listOrdersHandler serves both listings; the service scopes customers to
// their own orders, so user_id only matters for admins.
func listOrdersHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		f := ord.ListFilter{Limit: limit, Offset: offset}
		if s := strings.TrimSpace(c.Query("status")); s != "" {
			st := ord.Status(strings.ToLower(s))
			f.Status = &st
		}
		if u := strings.TrimSpace(c.Query("user_id")); u != "" {
			f.UserID = &u
		}
		orders, err := svc.ListOrders(c.Request.Context(), httpx.IdentityFrom(c), f)
		if err != nil {
			httpx.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}
