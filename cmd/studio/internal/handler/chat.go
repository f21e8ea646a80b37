package handler

import (
	"errors"
	"net/http"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const defaultSystemPrompt = "You are an expert full-stack engineer."

type ChatHandler struct {
	llm      *service.LLMClient
	creds    *service.CredentialService
	settings *storage.SettingRepository
	provider string
	logger   zerolog.Logger
}

func NewChatHandler(llm *service.LLMClient, creds *service.CredentialService, settings *storage.SettingRepository, provider string, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		llm:      llm,
		creds:    creds,
		settings: settings,
		provider: provider,
		logger:   logger,
	}
}

// providerKey resolves the upstream credential. No stored key (or no
// operator secret) means the upstream is called unauthenticated; a
// decryption integrity failure is a hard error.
func (h *ChatHandler) providerKey() (string, error) {
	key, err := h.creds.LoadKey(h.provider)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) || errors.Is(err, service.ErrSecretNotConfigured) {
			return "", nil
		}
		return "", err
	}
	return key, nil
}

func (h *ChatHandler) systemPrompt() string {
	prompt, ok, err := h.settings.GetSetting("system_prompt")
	if err != nil || !ok || prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}

// Message returns one complete reply for a single user turn.
func (h *ChatHandler) Message(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "content is required",
		})
		return
	}

	apiKey, err := h.providerKey()
	if err != nil {
		h.logger.Error().Err(err).Msg("provider key unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "decrypt_failed",
			"message": "stored provider key could not be decrypted",
		})
		return
	}

	history := []service.Turn{
		{Role: service.RoleSystem, Content: h.systemPrompt()},
		{Role: service.RoleUser, Content: req.Content},
	}
	reply, err := h.llm.Complete(c.Request.Context(), history, apiKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("completion failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "upstream_unavailable",
			"message": "inference provider unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// Stream relays the provider token stream to the browser as a plain
// incremental text body. Fragments are written in provider order with no
// batching; total length is unknown up front and a client disconnect stops
// the upstream read via the request context.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req struct {
		Messages []service.Turn `json:"messages" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "messages are required",
		})
		return
	}
	if err := service.ValidateHistory(req.Messages); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	apiKey, err := h.providerKey()
	if err != nil {
		h.logger.Error().Err(err).Msg("provider key unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "decrypt_failed",
			"message": "stored provider key could not be decrypted",
		})
		return
	}

	fragments, err := h.llm.StreamInference(c.Request.Context(), req.Messages, apiKey)
	if err != nil {
		// Nothing has been written yet, so the failure still surfaces as a
		// regular error response.
		h.logger.Error().Err(err).Msg("stream start failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "upstream_unavailable",
			"message": "inference provider unavailable",
		})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for {
		select {
		case fragment, ok := <-fragments:
			if !ok {
				return
			}
			if _, err := c.Writer.WriteString(fragment); err != nil {
				// Client went away; the producer stops via the request ctx.
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
