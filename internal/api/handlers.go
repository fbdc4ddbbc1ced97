package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/emotichat/emotichat/internal/database"
	"github.com/emotichat/emotichat/internal/server"
	"github.com/emotichat/emotichat/internal/types"
	"github.com/gorilla/websocket"
)

type LoginRequest struct {
	// Login is a username or an email address.
	Login    string `json:"login"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrDuplicateAccount) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
	})
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Login == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByLogin(lr.Login)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.SetUserOnline(dbUser.Id, true); err != nil {
		s.log.Println("set user online:", err)
	}

	u := types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		LastLogin:    dbUser.LastLogin,
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *ChatApp) logout(w http.ResponseWriter, r *http.Request) {
	if userId, ok := UserId(r.Context()); ok {
		if err := s.db.SetUserOnline(userId, false); err != nil {
			s.log.Println("set user offline:", err)
		}
		s.cs.DisconnectUser(userId)
	}

	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		IsOnline:     user.IsOnline,
		CreatedAt:    user.CreatedAt,
		LastLogin:    user.LastLogin,
	})
}

// getMessages serves bounded recent room history over plain HTTP for
// page loads; live traffic goes over the websocket.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = server.DefaultRoom
	}

	limit := s.historyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if l > 0 && l < limit {
			limit = l
		}
	}

	records, err := s.db.RecentRoomMessages(room, limit)
	if err != nil {
		s.log.Println("recent room messages:", err)
		records = nil
	}

	messages := make([]types.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, types.Message{
			Id:            rec.Id,
			UserId:        rec.UserId,
			Username:      rec.Username,
			Room:          rec.Room,
			Body:          rec.Body,
			Kind:          rec.Kind,
			AttachmentRef: rec.AttachmentRef,
			Timestamp:     rec.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

// serveWs upgrades the connection. A missing or invalid token still
// upgrades but produces an anonymous connection that the chat server
// leaves unregistered.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	var user types.User
	if tokenCookie, err := r.Cookie(tokenCookieKey); err == nil {
		if userId, err := s.extractUserIdFromToken(tokenCookie.Value); err == nil {
			if dbUser, err := s.db.GetAccountById(userId); err == nil {
				user = types.User{
					Id:           dbUser.Id,
					Username:     dbUser.Username,
					EmailAddress: dbUser.EmailAddress,
				}
			} else {
				s.log.Println("account lookup for ws:", err)
			}
		} else {
			s.log.Println("token for ws:", err)
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	// registration must finish before the read pump can dispatch, or
	// the client's first frames race the session being established
	if err := s.cs.Connect(client); err != nil {
		s.log.Println("connect:", err)
	}

	go client.Write()
	go client.Read()
}
