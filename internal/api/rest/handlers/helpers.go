package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wagate/billing-service/internal/domain"
)

// headerUserID заголовок с идентификатором пользователя, проставляется
// API-шлюзом после аутентификации
const headerUserID = "X-User-ID"

// userIDFrom извлекает идентификатор пользователя из заголовка запроса
func userIDFrom(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(headerUserID)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + headerUserID + " header"})
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + headerUserID + " header"})
		return uuid.Nil, false
	}

	return userID, true
}

// respondError отвечает HTTP статусом, соответствующим доменной ошибке
func respondError(c *gin.Context, err error) {
	var verr domain.ValidationErrors
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidPackage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidOperation),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway is unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
