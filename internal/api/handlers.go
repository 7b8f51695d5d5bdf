package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/inkwell/internal/archive"
	"github.com/manpreetbhatti/inkwell/internal/db"
	"github.com/manpreetbhatti/inkwell/internal/logging"
	"github.com/manpreetbhatti/inkwell/internal/room"
	"github.com/manpreetbhatti/inkwell/internal/ws"
)

// API serves read-only views of live rooms and the archive. database and
// recorder are nil when archiving is disabled.
type API struct {
	hub      *ws.Hub
	database *db.Database
	recorder *archive.Recorder
	logger   *slog.Logger
}

func New(hub *ws.Hub, database *db.Database, recorder *archive.Recorder, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		hub:      hub,
		database: database,
		recorder: recorder,
		logger:   logger,
	}
}

// Router mounts the WebSocket endpoint and the JSON API
func (a *API) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(logging.AccessLog(a.logger))
	router.Use(corsMiddleware)

	router.Path("/ws").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})

	router.Methods(http.MethodGet, http.MethodOptions).Path("/health").HandlerFunc(a.HealthHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/stats").HandlerFunc(a.StatsHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/rooms").HandlerFunc(a.ListRoomsHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/rooms/{id}").HandlerFunc(a.GetRoomHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/rooms/{id}/log").HandlerFunc(a.RoomLogHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/rooms/{id}/operations").HandlerFunc(a.ArchivedOperationsHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/archive/rooms").HandlerFunc(a.ListArchivedRoomsHandler)
	router.Methods(http.MethodGet, http.MethodOptions).Path("/api/archive/rooms/{id}").HandlerFunc(a.GetArchivedRoomHandler)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusNotFound, "Not found")
	})

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding JSON response", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"live_rooms":     a.hub.Registry().Len(),
		"archive":        a.database != nil,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		stats["archive_epoch"] = a.database.Epoch()
		dbStats, err := a.database.GetStats()
		if err != nil {
			a.logger.Error("reading archive stats", "err", err)
		} else {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_operations"] = dbStats["operation_count"]
			stats["active_operations"] = dbStats["active_operation_count"]
		}
	}
	if a.recorder != nil {
		stats["journal_written"] = a.recorder.Written()
		stats["journal_dropped"] = a.recorder.Dropped()
		stats["journal_failed"] = a.recorder.Failed()
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	room.Stats
	MemberList []room.Member `json:"member_list"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.hub.Registry().Rooms()

	response := make([]room.Stats, len(rooms))
	for i, rm := range rooms {
		response[i] = rm.Stats()
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": response,
		"total": len(response),
	})
}

func (a *API) liveRoom(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	id := mux.Vars(r)["id"]
	rm, ok := a.hub.Registry().Get(id)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return nil, false
	}
	return rm, true
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.liveRoom(w, r)
	if !ok {
		return
	}

	jsonResponse(w, http.StatusOK, RoomResponse{
		Stats:      rm.Stats(),
		MemberList: rm.Members(),
	})
}

func (a *API) RoomLogHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := a.liveRoom(w, r)
	if !ok {
		return
	}

	ops := rm.Log()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"roomId":     rm.ID,
		"operations": ops,
		"total":      len(ops),
	})
}

func (a *API) ArchivedOperationsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive disabled")
		return
	}

	id := mux.Vars(r)["id"]
	limit, offset := pagination(r)

	ops, err := a.database.ListOperations(id, limit, offset)
	if err != nil {
		a.logger.Error("listing archived operations", "room", id, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list operations")
		return
	}
	if ops == nil {
		ops = []db.Operation{}
	}

	total, err := a.database.GetOperationCount(id)
	if err != nil {
		a.logger.Error("counting archived operations", "room", id, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to count operations")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"roomId":     id,
		"operations": ops,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// Archive handlers

type ArchivedRoomResponse struct {
	db.Room
	OperationCount int `json:"operation_count"`
	ActiveUsers    int `json:"active_users"`
}

func (a *API) ListArchivedRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive disabled")
		return
	}

	limit, offset := pagination(r)

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		a.logger.Error("listing archived rooms", "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]ArchivedRoomResponse, len(rooms))
	for i, rm := range rooms {
		count, err := a.database.GetOperationCount(rm.ID)
		if err != nil {
			a.logger.Error("counting archived operations", "room", rm.ID, "err", err)
		}
		response[i] = ArchivedRoomResponse{
			Room:           rm,
			OperationCount: count,
			ActiveUsers:    activeRooms[rm.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetArchivedRoomHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive disabled")
		return
	}

	id := mux.Vars(r)["id"]
	rm, err := a.database.GetRoom(id)
	if err != nil {
		a.logger.Error("reading archived room", "room", id, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if rm == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	count, err := a.database.GetOperationCount(id)
	if err != nil {
		a.logger.Error("counting archived operations", "room", id, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to count operations")
		return
	}

	jsonResponse(w, http.StatusOK, ArchivedRoomResponse{
		Room:           *rm,
		OperationCount: count,
		ActiveUsers:    a.hub.GetActiveRooms()[id],
	})
}
