package handlers

import "github.com/gofiber/fiber/v2"

// Register mounts the command and report routes.
func Register(app fiber.Router, sessions *SessionHandler, reports *ReportHandler) {
	app.Post("/sessions/:key", sessions.Start)
	app.Post("/sessions/:key/stop", sessions.Stop)
	app.Get("/status", sessions.Status)

	if reports != nil {
		app.Get("/reports", reports.List)
		app.Get("/reports/:id", reports.Get)
		app.Get("/reports/:id/transcript", reports.Transcript)
	}
}
