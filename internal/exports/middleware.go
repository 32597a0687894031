package exports

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by the API key middleware.
const (
	contextOrgIDKey = "exportOrgID"
	contextKeyIDKey = "exportKeyID"
)

// APIKeyAuthMiddleware validates export API keys for the public CSV endpoint.
func APIKeyAuthMiddleware(repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := c.GetHeader("X-Export-API-Key")
		if plaintext == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing export API key"})
			return
		}

		key, err := repo.GetAPIKeyByHash(c.Request.Context(), HashKey(plaintext))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid export API key"})
			return
		}

		c.Set(contextOrgIDKey, key.OrganizationID)
		c.Set(contextKeyIDKey, key.ID)
		c.Next()
	}
}

func getExportOrgID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(contextOrgIDKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing organization context"})
		return uuid.Nil, false
	}
	orgID, ok := value.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing organization context"})
		return uuid.Nil, false
	}
	return orgID, true
}

func getExportKeyID(c *gin.Context) (uuid.UUID, bool) {
	value, _ := c.Get(contextKeyIDKey)
	keyID, ok := value.(uuid.UUID)
	return keyID, ok
}
