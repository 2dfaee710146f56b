// handlers/claim.go
package handlers

import (
	"trivia-settlement/middleware"
	"trivia-settlement/services"

	"github.com/gofiber/fiber/v2"
)

func SetupClaimRoutes(app *fiber.App, claimService *services.ClaimService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/games/:id/merkle-proof", claimService.GetMerkleProof)
	secured.Post("/games/:id/claim", claimService.ConfirmClaim)
}
