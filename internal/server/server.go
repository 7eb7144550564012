package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"chart-trade-bot-go/internal/engine"
	"chart-trade-bot-go/internal/models"
	"chart-trade-bot-go/internal/storage"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server owns the HTTP API, the WebSocket broadcast hub and the single
// dispatch goroutine. Every engine mutation from any handler is funneled
// through the command channel, which is what lets the engine and state
// manager stay lock-free.
type Server struct {
	engine  *engine.Engine
	db      *sql.DB // optional paired-records store
	logger  *zap.SugaredLogger
	httpSrv *http.Server

	commands chan func()

	// Per-bot rule configuration, keyed by bot id. Bots without an entry
	// fall back to defaultCfg. Only touched from the dispatch goroutine.
	configs    map[string]models.RuleConfig
	defaultCfg models.RuleConfig

	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	broadcast  chan []byte

	stopChan chan struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a server. db may be nil when paired-record queries are not
// wanted (e.g. replay mode reusing the handlers in tests).
func New(listenAddr string, eng *engine.Engine, db *sql.DB, defaultCfg models.RuleConfig, logger *zap.SugaredLogger) *Server {
	s := &Server{
		engine:     eng,
		db:         db,
		logger:     logger,
		commands:   make(chan func(), 64),
		configs:    make(map[string]models.RuleConfig),
		defaultCfg: defaultCfg,
		upgrader: websocket.Upgrader{
			// Signals come from a local capture process; same-origin
			// checks would only get in the way.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]chan []byte),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 16),
		stopChan:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/signal", s.handleSignal)
	mux.HandleFunc("/api/manual", s.handleManual)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/bots/config", s.handleBotConfig)
	mux.HandleFunc("/api/bots/clear", s.handleBotClear)
	mux.HandleFunc("/api/clear", s.handleClearAll)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Addr: listenAddr, Handler: mux}
	return s
}

// Start runs the dispatch loop, the hub and the HTTP listener. It blocks
// until the listener exits.
func (s *Server) Start() error {
	go s.dispatchLoop()
	go s.hubLoop()
	s.logger.Infof("HTTP server listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, the hub and the dispatch loop.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	close(s.stopChan)
	close(s.commands)
	return err
}

// dispatchLoop is the single writer for the engine. Handlers submit
// closures and wait; the loop runs them one at a time.
func (s *Server) dispatchLoop() {
	for cmd := range s.commands {
		cmd()
	}
}

// do runs fn on the dispatch goroutine and waits for it to finish.
func (s *Server) do(fn func()) {
	done := make(chan struct{})
	s.commands <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// configFor resolves the rule configuration for a bot id. Must be called
// from the dispatch goroutine.
func (s *Server) configFor(botID string) models.RuleConfig {
	if cfg, ok := s.configs[botID]; ok {
		return cfg
	}
	return s.defaultCfg
}

// --- HTTP handlers ---

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sig models.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "invalid signal payload", http.StatusBadRequest)
		return
	}

	var sum *models.Summary
	s.do(func() {
		sum = s.engine.OnSignal(sig, s.configFor(sig.BotID))
	})

	s.broadcastSummary(sum)
	writeJSON(w, s.logger, sum)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Price   string `json:"price"`
		Ticker  string `json:"ticker"`
		BotID   string `json:"bot_id"`
		BotName string `json:"bot_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid manual payload", http.StatusBadRequest)
		return
	}

	var sum *models.Summary
	s.do(func() {
		sum = s.engine.ManualToggle(req.Price, req.Ticker, req.BotID, req.BotName)
	})

	s.broadcastSummary(sum)
	writeJSON(w, s.logger, sum)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sum *models.Summary
	s.do(func() {
		sum = s.engine.GenerateSummary()
	})
	writeJSON(w, s.logger, sum)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "records store not configured", http.StatusServiceUnavailable)
		return
	}

	records, err := storage.LoadRecords(s.db, r.URL.Query().Get("bot_id"))
	if err != nil {
		s.logger.Errorf("Failed to load paired records: %v", err)
		http.Error(w, "failed to load records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.PairedRecord{}
	}
	writeJSON(w, s.logger, records)
}

func (s *Server) handleBotConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BotID  string            `json:"bot_id"`
		Config models.RuleConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid config payload", http.StatusBadRequest)
		return
	}
	if req.BotID == "" {
		http.Error(w, "bot_id is required", http.StatusBadRequest)
		return
	}

	s.do(func() {
		s.configs[req.BotID] = req.Config
	})
	s.logger.Infof("Updated rule config for bot %s", req.BotID)
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

func (s *Server) handleBotClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BotID  string `json:"bot_id"`
		Ticker string `json:"ticker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid clear payload", http.StatusBadRequest)
		return
	}

	s.do(func() {
		s.engine.ClearBot(req.BotID, req.Ticker)
		delete(s.configs, req.BotID)
	})

	if s.db != nil && req.BotID != "" {
		if err := storage.DeleteBotRecords(s.db, req.BotID); err != nil {
			s.logger.Errorf("Failed to delete records for bot %s: %v", req.BotID, err)
		}
	}
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.do(func() {
		s.engine.ClearAll()
		s.configs = make(map[string]models.RuleConfig)
	})

	if s.db != nil {
		if err := storage.ClearRecords(s.db); err != nil {
			s.logger.Errorf("Failed to clear records: %v", err)
		}
	}
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}

// --- WebSocket hub ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 16)}
	s.register <- client

	go s.writePump(client)
	go s.readPump(client)
}

// hubLoop owns the client set. Register/unregister/broadcast all go
// through here so the map needs no lock.
func (s *Server) hubLoop() {
	for {
		select {
		case c := <-s.register:
			s.clients[c.conn] = c.send
			s.logger.Infof("WebSocket client connected (%d total)", len(s.clients))
		case conn := <-s.unregister:
			if send, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				close(send)
				conn.Close()
			}
		case msg := <-s.broadcast:
			for conn, send := range s.clients {
				select {
				case send <- msg:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(s.clients, conn)
					close(send)
					conn.Close()
				}
			}
		case <-s.stopChan:
			for conn, send := range s.clients {
				delete(s.clients, conn)
				close(send)
				conn.Close()
			}
			return
		}
	}
}

// broadcastSummary pushes a summary snapshot to every connected client.
// Dropping the message when the hub is saturated is fine: the next signal
// will publish a fresher snapshot anyway.
func (s *Server) broadcastSummary(sum *models.Summary) {
	data, err := json.Marshal(sum)
	if err != nil {
		s.logger.Warnf("Failed to marshal summary for broadcast: %v", err)
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

// readPump discards inbound frames but keeps the pong deadline fresh.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.unregister <- c.conn
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
