package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/stagefox/rockstar-booth/internal/api/handlers/session"
	"github.com/stagefox/rockstar-booth/internal/middleware"
)

func Setup(h *session.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.GET("/guitars", h.Guitars)

	api.POST("/sessions", h.Create)
	api.GET("/sessions/:id", h.Get)
	api.PUT("/sessions/:id/guitars", h.SetGuitars)
	api.POST("/sessions/:id/confirm", h.Confirm)
	api.POST("/sessions/:id/photo", h.UploadPhoto)
	api.POST("/sessions/:id/generate", h.Generate)
	api.POST("/sessions/:id/generate/cancel", h.CancelGenerate)
	api.POST("/sessions/:id/items/:key/regenerate", h.Regenerate)
	api.GET("/sessions/:id/items/:key/image", h.ItemImage)
	api.POST("/sessions/:id/album", h.AssembleAlbum)
	api.GET("/sessions/:id/album", h.DownloadAlbum)
	api.GET("/sessions/:id/history", h.History)

	return r
}
