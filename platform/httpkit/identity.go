package httpkit

import "github.com/gin-gonic/gin"

// CallingService returns the subject of the verified service token, or ""
// when the request carried none.
func CallingService(c *gin.Context) string {
	service, _ := c.Get(ContextServiceKey)
	name, _ := service.(string)
	return name
}
