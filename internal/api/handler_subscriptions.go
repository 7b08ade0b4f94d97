package api

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"smartmess-backend/internal/model"
	"smartmess-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint         string   `json:"endpoint" binding:"required,url"`
	P256DH           string   `json:"p256dh" binding:"required"`
	Auth             string   `json:"auth" binding:"required"`
	SubscribedMesses []string `json:"subscribed_messes" binding:"dive,max=64"`
}

// PutSubscription handles the creation or replacement of a subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.PutSubscription(c.Request.Context(), &subscription, req.SubscribedMesses); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// endpointParam reads the endpoint query parameter. Push endpoints are URLs
// themselves and clients do not always escape them. An unescaped value
// ("endpoint=https://...") runs to the end of the query, its own "&" and "+"
// included, so it must come last. An escaped value ends at the next "&" and
// is decoded without turning "+" into a space; endpoints never hold spaces.
func endpointParam(rawQuery string) (string, bool) {
	rest := rawQuery
	for rest != "" {
		var kv string
		kv, rest, _ = strings.Cut(rest, "&")
		raw, found := strings.CutPrefix(kv, "endpoint=")
		if !found {
			continue
		}
		if strings.Contains(raw, "://") {
			if rest != "" {
				raw += "&" + rest
			}
			return raw, true
		}
		if decoded, err := url.PathUnescape(raw); err == nil {
			return decoded, true
		}
		return raw, true
	}
	return "", false
}

// GetSubscription handles the retrieval of a subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint, ok := endpointParam(c.Request.URL.RawQuery)
	if !ok || endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	subscription, err := h.store.GetSubscription(c.Request.Context(), endpoint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	messIDs := make([]string, len(subscription.Messes))
	for i, mess := range subscription.Messes {
		messIDs[i] = mess.ID
	}
	sort.Strings(messIDs)

	c.JSON(http.StatusOK, gin.H{"subscribed_messes": messIDs})
}
