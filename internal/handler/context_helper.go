package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/loyalty-enrollment-api/internal/middleware"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
	"github.com/noah-isme/loyalty-enrollment-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

// requireClaims writes 401 and returns nil when the request carries no claims.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims
}

func serviceMissing(c *gin.Context, name string) {
	response.Error(c, appErrors.Clone(appErrors.ErrInternal, name+" service not configured"))
}
