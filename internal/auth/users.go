package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Credits は GET /api/users/credits のハンドラーです。
func (m *Manager) Credits(c *gin.Context) {
	userID := c.GetString(ContextUserKey)
	user, err := m.users.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "残高の取得に失敗しました",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": user.Credits})
}

type updateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateProfile は PATCH /api/users/profile のハンドラーです。
func (m *Manager) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "name を JSON で送ってください",
		})
		return
	}

	userID := c.GetString(ContextUserKey)
	user, err := m.users.UpdateProfile(c.Request.Context(), userID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "PROFILE_UPDATE_FAILED",
			"message": "プロフィールの更新に失敗しました",
		})
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}
