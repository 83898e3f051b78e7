package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// PackageHandler обработчик каталога тарифных пакетов
type PackageHandler struct {
	packages service.PackageService
	log      *logger.Logger
}

// NewPackageHandler создает новый обработчик каталога
func NewPackageHandler(packages service.PackageService, log *logger.Logger) *PackageHandler {
	return &PackageHandler{
		packages: packages,
		log:      log,
	}
}

// GetPackages возвращает пакеты, доступные для покупки.
// С параметром all=true возвращает и снятые с продажи.
func (h *PackageHandler) GetPackages(c *gin.Context) {
	var (
		packages []domain.Package
		err      error
	)

	if c.Query("all") == "true" {
		packages, err = h.packages.GetAll(c.Request.Context())
	} else {
		packages, err = h.packages.GetActive(c.Request.Context())
	}

	if err != nil {
		h.log.Error("Failed to get packages: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, packages)
}

// GetPackage возвращает пакет по ID
func (h *PackageHandler) GetPackage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package ID format"})
		return
	}

	pkg, err := h.packages.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkg)
}

// CreatePackage добавляет пакет в каталог
func (h *PackageHandler) CreatePackage(c *gin.Context) {
	var req domain.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	pkg, err := h.packages.Create(c.Request.Context(), req)
	if err != nil {
		h.log.Error("Failed to create package: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkg)
}

// UpdatePackage изменяет пакет
func (h *PackageHandler) UpdatePackage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package ID format"})
		return
	}

	var req domain.PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	pkg, err := h.packages.Update(c.Request.Context(), id, req)
	if err != nil {
		h.log.Error("Failed to update package %s: %v", id, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkg)
}

// DeactivatePackage снимает пакет с продажи.
// Пакет остается в каталоге: на него могут ссылаться действующие подписки.
func (h *PackageHandler) DeactivatePackage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package ID format"})
		return
	}

	if err := h.packages.Deactivate(c.Request.Context(), id); err != nil {
		h.log.Error("Failed to deactivate package %s: %v", id, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "package_id": id})
}
