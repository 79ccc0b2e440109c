// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/azrael-engine/azrael/world"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64,
	WriteBufferSize: 64,
}

// WSServer pushes each package id to one currently-connected worker over
// a websocket, generalizing mk48's SocketClient write pump
// from a per-client outbound JSON message to a raw 8-byte little-endian
// package-id frame.
type WSServer struct {
	mu      sync.Mutex
	clients map[*wsConn]struct{}
	next    chan world.PackageID
}

type wsConn struct {
	sessionID uuid.UUID
	conn      *websocket.Conn
	send      chan world.PackageID
	once      sync.Once
}

func NewWSServer() *WSServer {
	return &WSServer{clients: make(map[*wsConn]struct{})}
}

// ServeHTTP upgrades a worker's connection and registers it to receive
// dispatched package ids.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("dispatch websocket upgrade failed")
		return
	}
	sessionID, err := uuid.NewV4()
	if err != nil {
		log.Error().Err(err).Msg("failed to mint worker session id")
		_ = conn.Close()
		return
	}
	client := &wsConn{sessionID: sessionID, conn: conn, send: make(chan world.PackageID, 16)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	log.Info().Str("session_id", sessionID.String()).Msg("worker connected")

	go s.writePump(client)
	s.readPump(client)
}

func (s *WSServer) readPump(client *wsConn) {
	defer s.destroy(client)
	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := client.conn.NextReader(); err != nil {
			break
		}
	}
}

func (s *WSServer) writePump(client *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.destroy(client)
	}()
	for {
		select {
		case id, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(id))
			if err := client.conn.WriteMessage(websocket.BinaryMessage, buf[:]); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WSServer) destroy(client *wsConn) {
	client.once.Do(func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		close(client.send)
		_ = client.conn.Close()
		log.Info().Str("session_id", client.sessionID.String()).Msg("worker disconnected; its in-flight packages expire at the tick deadline")
	})
}

// Dispatch sends id to one connected worker, picked arbitrarily by map
// iteration order. It returns false if no worker is currently connected
// or every connected worker's send buffer is full; it does not retry.
func (s *WSServer) Dispatch(id world.PackageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- id:
			return true
		default:
		}
	}
	return false
}

// WSClient is a worker-side connection that receives package ids pushed
// by a WSServer.
type WSClient struct {
	conn *websocket.Conn
}

func DialWSClient(url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &WSClient{conn: conn}, nil
}

// Receive blocks until one package id frame arrives.
func (c *WSClient) Receive() (world.PackageID, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, websocket.ErrReadLimit
	}
	return world.PackageID(binary.LittleEndian.Uint64(data)), nil
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}
