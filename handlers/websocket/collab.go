package websocket

import (
	"net/http"
	"net/url"

	"collab-server/collab"
	"collab-server/core"
	"collab-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	broker   *collab.Broker
	upgrader websocket.Upgrader
}

// NewHandler accepts handshakes from allowedOrigins. "*" allows any
// origin; requests without an Origin header are treated as same-origin.
func NewHandler(broker *collab.Broker, allowedOrigins []string) *Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Handler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				if allowed[origin] {
					return true
				}
				parsed, err := url.Parse(origin)
				return err == nil && parsed.Host == r.Host
			},
		},
	}
}

// Mount registers the collaboration socket and the rooms endpoint.
func (h *Handler) Mount(r chi.Router) {
	r.With(middleware.Credential).Get("/ws/collab/{workspaceID}/{kind}/{resourceID}", h.HandleCollab)
	r.Get("/api/rooms", h.HandleRooms)
}

// HandleCollab upgrades /ws/collab/{workspaceID}/{kind}/{resourceID} and
// runs the session until it closes.
func (h *Handler) HandleCollab(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	resourceID := chi.URLParam(r, "resourceID")
	kind, err := core.ParseResourceKind(chi.URLParam(r, "kind"))
	if err != nil || workspaceID == "" || resourceID == "" {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "Unknown collaboration target"})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	req := collab.JoinRequest{
		Credential: middleware.CredentialFromContext(r.Context()),
		Target: core.Target{
			WorkspaceID: workspaceID,
			Key:         core.ResourceKey{Kind: kind, ID: resourceID},
		},
	}
	if err := h.broker.Serve(r.Context(), newConn(ws), req); err != nil {
		logrus.WithError(err).Debug("Connection rejected")
	}
}

// HandleRooms lists the live rooms and their member counts.
func (h *Handler) HandleRooms(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"rooms": h.broker.Rooms().Rooms()})
}
