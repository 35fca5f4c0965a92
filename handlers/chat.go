// handlers/chat_routes.go
package handlers

import (
	"squad-wager-system/middleware"
	"squad-wager-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChatRoutes(app *fiber.App, chatService *services.ChatService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/matches/:id/chat", chatService.SendMessageHandler)
	secured.Get("/matches/:id/chat", chatService.FetchMessagesHandler)

	// ✅ Admin routes — moderation holds and investigations
	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Get("/matches/:id/chat", chatService.FetchForInvestigationHandler)
	admin.Post("/matches/:id/chat-hold", chatService.PlaceHoldHandler)
	admin.Delete("/matches/:id/chat-hold", chatService.ReleaseHoldHandler)
}
