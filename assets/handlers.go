package assets

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Library stores a user's reference assets.
type Library interface {
	CreateAsset(ctx context.Context, userID uint, a selection.Asset) (selection.Asset, error)
	ListAssets(ctx context.Context, userID uint) ([]selection.Asset, error)
}

type Handler struct {
	Library Library
	logger  *zap.Logger
}

func NewHandler(lib Library, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Library: lib, logger: logger}
}

// CreateAssetRequest registers an already uploaded image with its tags.
type CreateAssetRequest struct {
	Kind           string   `json:"kind" binding:"required,oneof=product logo other"`
	PrimarySubject string   `json:"primary_subject" binding:"required"`
	StyleTags      []string `json:"style_tags"`
	ColorTags      []string `json:"color_tags"`
	ImageURL       string   `json:"image_url" binding:"required,url"`
}

func (h *Handler) CreateAsset(c *gin.Context) {
	userID := c.GetUint("user_id")
	var req CreateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := h.Library.CreateAsset(c.Request.Context(), userID, selection.Asset{
		Kind:           selection.Kind(req.Kind),
		PrimarySubject: strings.TrimSpace(req.PrimarySubject),
		StyleTags:      req.StyleTags,
		ColorTags:      req.ColorTags,
		ImageURL:       req.ImageURL,
	})
	if errors.Is(err, store.ErrDuplicateAsset) {
		c.JSON(http.StatusConflict, gin.H{"error": "Asset with this image already exists"})
		return
	}
	if err != nil {
		h.logger.Error("create asset", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create asset"})
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (h *Handler) ListAssets(c *gin.Context) {
	userID := c.GetUint("user_id")
	assets, err := h.Library.ListAssets(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve assets"})
		return
	}
	if assets == nil {
		assets = []selection.Asset{}
	}
	c.JSON(http.StatusOK, assets)
}
