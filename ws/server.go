package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/hub"
	"github.com/engagekit/engrelay/telemetry"
)

// Inbound message types accepted from clients.
const (
	MessageJoin  = "join"
	MessageLeave = "leave"
)

const maxMessageSize = 512

type controlMessage struct {
	Type    string `json:"type"`
	Company string `json:"company"`
}

// Server upgrades HTTP requests and runs the read/write pumps for each
// connection. A connection belongs to at most one tenant at a time; joins
// name the tenant by code or schema name.
type Server struct {
	registry *hub.Registry
	tenants  map[string]string

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int

	upgrader websocket.Upgrader
}

// NewServer creates the transport layer over the given registry. tenants
// seeds the join-key lookup; both the tenant code and the schema name map to
// the canonical tenant identifier used for routing.
func NewServer(registry *hub.Registry, conf cfg.WebSocketConfiguration, tenants []cfg.TenantConfiguration) *Server {
	lookup := make(map[string]string, len(tenants)*2)
	for _, t := range tenants {
		lookup[t.Code] = t.SchemaName
		lookup[t.SchemaName] = t.SchemaName
	}
	if conf.PingIntervalSeconds < 1 {
		conf.PingIntervalSeconds = cfg.Default().WebSocket.PingIntervalSeconds
	}
	if conf.PongTimeoutSeconds < 1 {
		conf.PongTimeoutSeconds = cfg.Default().WebSocket.PongTimeoutSeconds
	}
	if conf.WriteTimeoutMS < 1 {
		conf.WriteTimeoutMS = cfg.Default().WebSocket.WriteTimeoutMS
	}
	return &Server{
		registry:     registry,
		tenants:      lookup,
		pingInterval: time.Duration(conf.PingIntervalSeconds) * time.Second,
		pongTimeout:  time.Duration(conf.PongTimeoutSeconds) * time.Second,
		writeTimeout: time.Duration(conf.WriteTimeoutMS) * time.Millisecond,
		sendBuffer:   conf.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from tenant frontends on other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) resolveTenant(key string) (string, bool) {
	tenant, ok := s.tenants[key]
	return tenant, ok
}

// Handler accepts WebSocket upgrade requests.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(conn, s.sendBuffer)
	telemetry.WSConnections.Inc()
	log.Debug().Str("conn_id", client.id).Str("remote", r.RemoteAddr).Msg("Client connected")

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(c *Client) {
	defer func() {
		sub, joined := s.registry.Get(c.id)
		s.registry.Leave(c.id)
		if joined {
			telemetry.SubscribersActive.With(sub.TenantID).Set(float64(s.registry.CountTenant(sub.TenantID)))
		}
		c.Close()
		telemetry.WSConnections.Dec()
		log.Debug().Str("conn_id", c.id).Msg("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Read loop ended")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("conn_id", c.id).Msg("Ignoring malformed client message")
			continue
		}

		switch msg.Type {
		case MessageJoin:
			tenant, ok := s.resolveTenant(msg.Company)
			if !ok {
				log.Warn().Str("conn_id", c.id).Str("company", msg.Company).Msg("Join for unknown tenant rejected")
				continue
			}
			s.registry.Join(c, tenant)
			telemetry.SubscribersActive.With(tenant).Set(float64(s.registry.CountTenant(tenant)))
			log.Info().Str("conn_id", c.id).Str("tenant", tenant).Msg("Client joined tenant")
		case MessageLeave:
			sub, joined := s.registry.Get(c.id)
			s.registry.Leave(c.id)
			if joined {
				telemetry.SubscribersActive.With(sub.TenantID).Set(float64(s.registry.CountTenant(sub.TenantID)))
				log.Info().Str("conn_id", c.id).Str("tenant", sub.TenantID).Msg("Client left tenant")
			}
		default:
			log.Warn().Str("conn_id", c.id).Str("type", msg.Type).Msg("Ignoring unknown client message type")
		}
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
