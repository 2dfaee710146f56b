// handlers/settlement.go
package handlers

import (
	"trivia-settlement/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSettlementRoutes(app *fiber.App, settlementService *services.SettlementService) {
	// Internal endpoints. The scheduler drives these on a sweep, but ops can
	// trigger a rank or publish manually through the gateway.
	app.Post("/games/:id/rank", settlementService.RankGame)
	app.Post("/games/:id/publish", settlementService.PublishGame)

	app.Get("/settlement/fees", settlementService.GetAccumulatedFees)
}
