// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"promo/internal/service/coupon/application"
	"promo/internal/service/coupon/domain"
)

// CouponHandler 封装了 coupon 服务的 HTTP 处理器
type CouponHandler struct {
	service *application.CouponApplicationService
}

// NewCouponHandler 创建一个新的 HTTP 处理器实例
func NewCouponHandler(service *application.CouponApplicationService) *CouponHandler {
	return &CouponHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CouponHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/coupons/issue", h.handleIssue)
	mux.HandleFunc("/coupons/reserve", h.handleReserve)
	mux.HandleFunc("/coupons/release", h.handleRelease)
	mux.HandleFunc("/coupons/list", h.handleList)
	mux.HandleFunc("/coupons/get", h.handleGet)
	mux.HandleFunc("/coupons/cancel", h.handleCancel)
	mux.HandleFunc("/policies/create", h.handleCreatePolicy)
	mux.HandleFunc("/policies/quantity", h.handleUpdateQuantity)
}

func (h *CouponHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.IssueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	var coupon *domain.CouponIssue
	var err error
	switch {
	case req.Code != "":
		coupon, err = h.service.IssueByCode(ctx, req.Code, req.UserID)
	case req.PolicyID > 0:
		coupon, err = h.service.IssueByPolicy(ctx, req.PolicyID, req.UserID)
	default:
		http.Error(w, "either policy_id or code is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, application.ToCouponResponse(coupon))
}

func (h *CouponHandler) handleReserve(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ReserveCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Reserve(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// 占用失败不是 HTTP 错误，调用方按 reserved 字段分流
	writeJSON(w, http.StatusOK, resp)
}

func (h *CouponHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ReleaseCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ReservationID == "" {
		http.Error(w, "reservation_id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.Release(ctx, req.ReservationID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *CouponHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID <= 0 {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.CancelCoupon(ctx, req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *CouponHandler) handleList(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	coupons, err := h.service.ListUserCoupons(ctx, userID, page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupons)
}

func (h *CouponHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	coupon, err := h.service.GetCoupon(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

func (h *CouponHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	policy, err := h.service.CreatePolicy(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"policy_id": policy.ID})
}

func (h *CouponHandler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.UpdatePolicyQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdatePolicyQuantity(ctx, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// writeDomainError 根据业务错误类别映射 HTTP 状态码
func writeDomainError(w http.ResponseWriter, err error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var statusCode int
	switch kind {
	case domain.KindPolicyNotFound, domain.KindCouponNotFound, domain.KindReservationNotFound:
		statusCode = http.StatusNotFound
	case domain.KindStockExhausted, domain.KindUserLimitExceeded:
		statusCode = http.StatusConflict // 资源已被抢完/配额用尽
	case domain.KindPolicyNotYetActive, domain.KindPolicyExpired, domain.KindPolicyNotActive,
		domain.KindCouponExpired, domain.KindNotReservable, domain.KindNotInReservedState:
		statusCode = http.StatusForbidden // 请求合法，但业务规则拒绝
	case domain.KindLockAcquisitionFailed:
		statusCode = http.StatusServiceUnavailable // 竞争激烈，调用方可稍后重试
	default:
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": kind.String(),
		"msg":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
