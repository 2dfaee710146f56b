// handlers/game.go
package handlers

import (
	"trivia-settlement/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService) {
	// Reads require only the global service token (applied in main).
	app.Get("/games", gameService.GetAllGames)
	app.Get("/games/:id", gameService.GetGameByID)

	// Boundary intake: the admin tool creates games, the payment service
	// registers paid entries, the gameplay service pushes score updates.
	app.Post("/games", gameService.CreateGame)
	app.Post("/games/:id/entries", gameService.RegisterEntry)
	app.Post("/games/:id/scores", gameService.SubmitScore)
}
