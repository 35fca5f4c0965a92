// handlers/match_routes.go
package handlers

import (
	"squad-wager-system/middleware"
	"squad-wager-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService, disputeService *services.DisputeService) {
	// 🔓 Public routes — *no user context*, but **still require Gateway auth**
	app.Get("/matches/open", matchService.ListOpenMatchesHandler)
	app.Get("/matches/:id", matchService.GetMatchHandler)
	app.Get("/squads/:id/matches", matchService.ListSquadMatchesHandler)

	// 🔐 Secured routes — require user context (userID, roles), enforced via middleware
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/matches", matchService.CreateMatchHandler)
	secured.Post("/matches/:id/accept", matchService.AcceptMatchHandler)
	secured.Post("/matches/:id/start", matchService.StartMatchHandler)
	secured.Post("/matches/:id/result", matchService.SubmitResultHandler)
	secured.Post("/matches/:id/dispute", matchService.RaiseDisputeHandler)
	secured.Post("/matches/:id/evidence", disputeService.AttachEvidenceHandler)
	secured.Post("/matches/:id/cancel", matchService.CancelMatchHandler)

	// ✅ Admin routes — dispute resolution
	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Post("/matches/:id/resolve", disputeService.ResolveHandler)
}
