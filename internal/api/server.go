// Package api is the thin HTTP boundary: it turns REST calls into Manager
// operations and carries a minimal client-correlation/auth layer. Building
// out a full account system is out of scope; this layer exists only so a
// caller can be identified and correlated across REST and the WebSocket
// response stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"predictionmarket/internal/engine"
	"predictionmarket/internal/model"
	"predictionmarket/internal/ws"
)

// Server is the HTTP front-end over a running engine.Manager.
type Server struct {
	manager *engine.Manager
	hub     *ws.Hub
	users   *userStore
	secret  []byte
}

// NewServer builds a Server over a running manager and hub, signing tokens
// with secret.
func NewServer(mgr *engine.Manager, hub *ws.Hub, secret string) *Server {
	return &Server{manager: mgr, hub: hub, users: newUserStore(), secret: []byte(secret)}
}

// Router assembles the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	r.Get("/ws", s.hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/markets", s.createMarket)
		r.Post("/api/markets/{id}/orders", s.placeOrder)
		r.Delete("/api/markets/{id}/orders/{orderId}", s.cancelOrder)
		r.Get("/api/markets/{id}/orders", s.listOpenOrders)
		r.Get("/api/markets/{id}/depth", s.getDepth)
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

type user struct {
	ID           uint32
	Email        string
	PasswordHash string
}

// userStore is an in-memory email/password registry solely to hand out a
// stable uint32 user id for the ledger and engine to key on. It is not a
// full account system.
type userStore struct {
	mu      sync.Mutex
	byEmail map[string]*user
	nextID  uint32
}

func newUserStore() *userStore {
	return &userStore{byEmail: make(map[string]*user)}
}

func (u *userStore) create(email, passwordHash string) (*user, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.byEmail[email]; exists {
		return nil, fmt.Errorf("email already registered")
	}
	u.nextID++
	usr := &user{ID: u.nextID, Email: email, PasswordHash: passwordHash}
	u.byEmail[email] = usr
	return usr, nil
}

func (u *userStore) get(email string) *user {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.byEmail[email]
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}
	usr, err := s.users.create(req.Email, string(hash))
	if err != nil {
		jsonErr(w, 409, err.Error())
		return
	}

	token := s.makeToken(usr.ID)
	json200(w, map[string]any{"user_id": usr.ID, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	usr := s.users.get(req.Email)
	if usr == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(usr.ID)
	json200(w, map[string]any{"user_id": usr.ID, "token": token})
}

func (s *Server) makeToken(userID uint32) string {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

type ctxKey string

const ctxUserID ctxKey = "userID"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		sub, ok := claims["sub"].(float64)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, uint32(sub))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Markets & orders ─────────────────────────────────

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MarketID string `json:"market_id"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.MarketID == "" || req.Question == "" {
		jsonErr(w, 400, "market_id and question required")
		return
	}

	clientID := uuid.NewString()
	if err := s.manager.CreateMarket(r.Context(), req.MarketID, req.Question, clientID); err != nil {
		writeEngineErr(w, err)
		return
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(map[string]string{"market_id": req.MarketID, "client_id": clientID})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	userID := r.Context().Value(ctxUserID).(uint32)

	var req struct {
		Side      string  `json:"side"`
		Direction string  `json:"direction"`
		Price     float64 `json:"price"`
		Quantity  uint32  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		jsonErr(w, 400, err.Error())
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		jsonErr(w, 400, err.Error())
		return
	}

	clientID := uuid.NewString()
	order, trades, err := s.manager.PlaceOrder(r.Context(), userID, marketID, side, dir, req.Price, req.Quantity, clientID)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	json200(w, map[string]any{"order": order, "trades": trades, "client_id": clientID})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	orderIDStr := chi.URLParam(r, "orderId")
	orderID, err := strconv.ParseUint(orderIDStr, 10, 64)
	if err != nil {
		jsonErr(w, 400, "invalid order id")
		return
	}

	side, err := parseSide(r.URL.Query().Get("side"))
	if err != nil {
		jsonErr(w, 400, err.Error())
		return
	}
	dir, err := parseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		jsonErr(w, 400, err.Error())
		return
	}
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if err != nil {
		jsonErr(w, 400, "invalid price")
		return
	}

	clientID := uuid.NewString()
	if err := s.manager.CancelOrder(r.Context(), marketID, side, dir, price, orderID, clientID); err != nil {
		writeEngineErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "cancelled", "client_id": clientID})
}

func (s *Server) listOpenOrders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")
	userID := r.Context().Value(ctxUserID).(uint32)

	clientID := uuid.NewString()
	orders, err := s.manager.GetOpenOrders(r.Context(), userID, marketID, clientID)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	json200(w, orders)
}

func (s *Server) getDepth(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "id")

	clientID := uuid.NewString()
	depth, err := s.manager.GetDepth(r.Context(), marketID, clientID)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	json200(w, depth)
}

// ── Helpers ──────────────────────────────────────────

func parseSide(s string) (model.Side, error) {
	switch strings.ToUpper(s) {
	case "YES":
		return model.SideYes, nil
	case "NO":
		return model.SideNo, nil
	default:
		return "", fmt.Errorf("side must be YES or NO")
	}
}

func parseDirection(s string) (model.Direction, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return model.Buy, nil
	case "SELL":
		return model.Sell, nil
	default:
		return "", fmt.Errorf("direction must be BUY or SELL")
	}
}

func writeEngineErr(w http.ResponseWriter, err error) {
	is := func(targets ...error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case is(model.ErrMarketExists, model.ErrMarketNotFound, model.ErrOrderNotFound):
		jsonErr(w, 404, err.Error())
	case is(model.ErrInvalidPrice, model.ErrInvalidQuantity, model.ErrInvalidSide, model.ErrInvalidDirection):
		jsonErr(w, 400, err.Error())
	case is(model.ErrInsufficientFunds, model.ErrInsufficientLocked):
		jsonErr(w, 402, err.Error())
	default:
		jsonErr(w, 500, err.Error())
	}
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
