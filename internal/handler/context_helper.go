package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/food-approval-api/internal/middleware"
	"github.com/noah-isme/food-approval-api/internal/models"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
	"github.com/noah-isme/food-approval-api/pkg/response"
)

// requireClaims returns the authenticated caller. When there is none it
// writes a 401 and reports false.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, _ := c.Get(middleware.ContextUserKey)
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil || strings.TrimSpace(claims.UserID) == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// authorizeRegion confines region reviewers to requests of their own region.
func authorizeRegion(claims *models.JWTClaims, regionCode string) error {
	if claims.Role != models.RoleRegionReviewer {
		return nil
	}
	if claims.RegionCode == "" || !strings.EqualFold(claims.RegionCode, regionCode) {
		return appErrors.Clone(appErrors.ErrForbidden, "reviewer is not assigned to region "+regionCode)
	}
	return nil
}

// scopedRegion resolves the region filter of a listing. Region reviewers
// default to, and may only ask for, their own region.
func scopedRegion(claims *models.JWTClaims, requested string) (string, error) {
	requested = strings.ToUpper(strings.TrimSpace(requested))
	if claims.Role != models.RoleRegionReviewer {
		return requested, nil
	}
	if requested == "" {
		requested = claims.RegionCode
	}
	if err := authorizeRegion(claims, requested); err != nil {
		return "", err
	}
	return requested, nil
}

// visibleRequests drops requests outside the caller's region.
func visibleRequests(claims *models.JWTClaims, items []models.ApprovalRequest) []models.ApprovalRequest {
	if claims.Role != models.RoleRegionReviewer {
		return items
	}
	visible := make([]models.ApprovalRequest, 0, len(items))
	for _, item := range items {
		if authorizeRegion(claims, item.RegionCode) == nil {
			visible = append(visible, item)
		}
	}
	return visible
}
