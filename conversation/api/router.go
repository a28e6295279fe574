package api

import (
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutesV1 mounts the message routes on the /api/v1 group behind auth
func RegisterRoutesV1(v1 *gin.RouterGroup, handler *MessageHandler, auth gin.HandlerFunc) {
	conversations := v1.Group("/conversations/:id")
	conversations.Use(auth)
	{
		conversations.POST("/messages", middleware.RequirePermission(jwt.PermMessagesWrite), handler.CreateMessage)
		conversations.GET("/messages", middleware.RequirePermission(jwt.PermMessagesRead), handler.ListMessages)
		conversations.DELETE("/messages", middleware.RequirePermission(jwt.PermMessagesDelete), handler.DeleteConversationMessages)
	}

	v1.GET("/messages/:messageId", auth, middleware.RequirePermission(jwt.PermMessagesRead), handler.GetMessage)
}
