// internal/handlers/product.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emprendedores-unidos/marketplace/internal/i18n"
	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type ProductHandler struct {
	productService *services.ProductService
	storeService   *services.StoreService
	storageService *services.StorageService
}

func NewProductHandler(productService *services.ProductService, storeService *services.StoreService, storageService *services.StorageService) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		storeService:   storeService,
		storageService: storageService,
	}
}

// GET /products
func (h *ProductHandler) GetProducts(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	params := services.ProductSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
		InStock:          c.Query("in_stock") == "true",
	}

	if raw := c.Query("store_id"); raw != "" {
		storeID, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalidID, i18n.ResourceStore), nil)
			return
		}
		params.StoreID = &storeID
	}
	for key, target := range map[string]**decimal.Decimal{"price_min": &params.PriceMin, "price_max": &params.PriceMax} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, key), nil)
			return
		}
		*target = &value
	}

	products, total, err := h.productService.SearchProducts(c.Request.Context(), params)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(products, total, params.PaginationParams))
}

// GET /products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	productID, ok := paramUUID(c, "id", i18n.ResourceProduct)
	if !ok {
		return
	}

	product, err := h.productService.GetProduct(c.Request.Context(), productID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, product)
}

// POST /products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), sellerID, &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, product)
}

// PUT /products/:id
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		return
	}
	productID, ok := paramUUID(c, "id", i18n.ResourceProduct)
	if !ok {
		return
	}

	var req services.UpdateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.UpdateProduct(c.Request.Context(), sellerID, productID, &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, product)
}

// GET /stores/:slug
func (h *ProductHandler) GetStore(c *gin.Context) {
	store, err := h.storeService.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, store)
}

// POST /uploads/images
func (h *ProductHandler) UploadImage(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	sellerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var storeID *uuid.UUID
	if raw := c.PostForm("store_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalidID, i18n.ResourceStore), nil)
			return
		}
		storeID = &parsed
	}

	store, err := h.storeService.ResolveSellerStore(c.Request.Context(), sellerID, storeID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), nil)
		return
	}
	file, err := header.Open()
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyUploadFailed), nil)
		return
	}
	defer file.Close()

	result, err := h.storageService.UploadProductImage(c.Request.Context(), store.ID, file, header.Size)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}
