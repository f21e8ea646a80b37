package handler

import (
	"errors"
	"net/http"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	settings *storage.SettingRepository
	creds    *service.CredentialService
}

func NewAdminHandler(settings *storage.SettingRepository, creds *service.CredentialService) *AdminHandler {
	return &AdminHandler{settings: settings, creds: creds}
}

func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.GetAllSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to load settings",
		})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "setting key is required",
		})
		return
	}
	if err := h.settings.UpsertSetting(req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to save setting",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "value": req.Value})
}

// GetKeys lists provider ids that have a stored key. Ciphertext never
// leaves the store through this API.
func (h *AdminHandler) GetKeys(c *gin.Context) {
	providers, err := h.creds.ListProviders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to list api keys",
		})
		return
	}
	c.JSON(http.StatusOK, providers)
}

// UpdateKey stores a provider key encrypted at rest; an empty api_key
// deletes the stored credential.
func (h *AdminHandler) UpdateKey(c *gin.Context) {
	var req struct {
		ProviderID string `json:"provider_id" binding:"required"`
		APIKey     string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "provider_id is required",
		})
		return
	}
	if err := h.creds.StoreKey(req.ProviderID, req.APIKey); err != nil {
		if errors.Is(err, service.ErrSecretNotConfigured) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "config_missing",
				"message": "session secret not configured",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "failed to save api key",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}
