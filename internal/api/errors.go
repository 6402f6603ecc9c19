package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/middleware"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

// writeError 把领域错误映射为统一响应，未识别的错误按 500 处理并记录日志
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	reqID, traceID := middleware.RequestID(c), middleware.TraceID(c)

	var (
		validation   *domain.ValidationError
		unavailable  *domain.ProductUnavailableError
		insufficient *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &validation):
		resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, validation.Error(), reqID, traceID)
	case errors.As(err, &unavailable):
		resp.WriteJSON(c.Writer, http.StatusConflict, resp.CodeProductUnavailable, unavailable.Error(),
			gin.H{"product_ids": unavailable.ProductIDs}, reqID, traceID)
	case errors.As(err, &insufficient):
		resp.WriteJSON(c.Writer, http.StatusConflict, resp.CodeInsufficientStock, insufficient.Error(),
			gin.H{
				"product_id": insufficient.ProductID,
				"available":  insufficient.Available,
				"requested":  insufficient.Requested,
			}, reqID, traceID)
	case domain.IsNotFound(err):
		resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, err.Error(), reqID, traceID)
	case errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrAlertAlreadyResolved),
		errors.Is(err, domain.ErrReservationExpired):
		resp.Error(c.Writer, http.StatusConflict, resp.CodeInvalidTransition, err.Error(), reqID, traceID)
	case errors.Is(err, domain.ErrStockRecordExists):
		resp.Error(c.Writer, http.StatusConflict, resp.CodeDuplicateRequest, err.Error(), reqID, traceID)
	default:
		logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", reqID),
			zap.Error(err))
		resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError, "系统繁忙，请稍后重试", reqID, traceID)
	}
}

func badRequest(c *gin.Context, message string) {
	resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, message,
		middleware.RequestID(c), middleware.TraceID(c))
}

// pathID 解析正整数路径参数
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt 解析可选整数查询参数，缺省时返回 def
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// currentPrincipal 返回已认证调用方，缺失时写出 401
func currentPrincipal(c *gin.Context) (*domain.Principal, bool) {
	p := middleware.Principal(c)
	if p == nil || p.UserID <= 0 {
		resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, "用户未登录",
			middleware.RequestID(c), middleware.TraceID(c))
		return nil, false
	}
	return p, true
}
