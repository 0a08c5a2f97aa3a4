/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package devserver specifies the wire contract the embedded dev server
// consumes, per §6: its own HTTP surface is explicitly out of scope (§1),
// but the JSON message shapes and a WebSocket broadcaster are specified and
// implemented here, grounded on the teacher's serve/websocket.go connection
// manager, so that an HTTP layer can be bolted on without redesigning the
// wire contract.
package devserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ignite.build/core/cache"
	"ignite.build/core/hmr"
	"ignite.build/core/internal/logging"
	"ignite.build/core/workerpool"
)

// Message is the server-to-browser envelope (§6). Only the fields relevant
// to Type are populated; the rest are omitted from the JSON encoding.
type Message struct {
	Type      string `json:"type"`
	Component string `json:"component,omitempty"`
	Path      string `json:"path,omitempty"`
	Module    string `json:"module,omitempty"`
	URL       string `json:"url,omitempty"`
	Global    string `json:"global,omitempty"`
	Message   string `json:"message,omitempty"`
	Source    string `json:"source,omitempty"`
}

// FromDirective translates an HMR directive into its wire message (§6).
func FromDirective(d hmr.Directive, sourcePath string) Message {
	switch d.Kind {
	case hmr.KindComponentReload:
		return Message{Type: "component-reload", Component: d.ComponentID, Path: sourcePath}
	case hmr.KindSelfAccept:
		return Message{Type: "module-accept", Module: d.ModuleID, URL: sourcePath}
	case hmr.KindLibraryHotSwap:
		return Message{Type: "library-swap", Global: d.GlobalName, URL: d.NewURL}
	case hmr.KindPropagate:
		return Message{Type: "module-accept", Module: d.ModuleID, URL: sourcePath}
	default:
		return Message{Type: "reload"}
	}
}

// CompileErrorMessage builds the "error" message pushed for every
// user-visible compilation error (§7).
func CompileErrorMessage(err string) Message {
	return Message{Type: "error", Message: err, Source: "compile"}
}

// ClientErrorCategory is the closed set of categories the browser reports
// back (§6).
type ClientErrorCategory string

const (
	CategoryUncaughtError          ClientErrorCategory = "uncaught-error"
	CategoryUnhandledRejection     ClientErrorCategory = "unhandled-rejection"
	CategoryHMRHelperFailed        ClientErrorCategory = "hmr-helper-failed"
	CategoryHMRHelperException     ClientErrorCategory = "hmr-helper-exception"
	CategoryHMRHelperNoLibraryInfo ClientErrorCategory = "hmr-helper-no-library-info"
	CategoryVueHMR                ClientErrorCategory = "vue-hmr"
	CategoryLibraryHotReload       ClientErrorCategory = "library-hotreload"
)

var validCategories = map[ClientErrorCategory]bool{
	CategoryUncaughtError: true, CategoryUnhandledRejection: true,
	CategoryHMRHelperFailed: true, CategoryHMRHelperException: true,
	CategoryHMRHelperNoLibraryInfo: true, CategoryVueHMR: true, CategoryLibraryHotReload: true,
}

// ClientError is the browser-to-server envelope (§6).
type ClientError struct {
	Type     string               `json:"type"`
	Category ClientErrorCategory  `json:"category"`
	Error    json.RawMessage      `json:"error"`
	Context  json.RawMessage      `json:"context"`
}

// IsValidCategory reports whether category is in the closed set.
func IsValidCategory(category ClientErrorCategory) bool {
	return validCategories[category]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin restricts WebSocket upgrades to localhost and same-origin
// requests, matching the teacher's serve/websocket.go origin check.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := originURL.Hostname()
	requestHost := r.Host
	if idx := strings.IndexByte(requestHost, ':'); idx != -1 {
		requestHost = requestHost[:idx]
	}
	if host == requestHost || host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return strings.HasPrefix(host, "127.") || strings.HasSuffix(host, ".localhost")
}

type connWrapper struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WebSocketManager broadcasts HMR directives to every connected browser and
// collects client-error reports, grounded on the teacher's websocketManager.
type WebSocketManager struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]*connWrapper
	onClientErr func(ClientError)
}

// NewWebSocketManager constructs an empty manager. onClientErr, if non-nil,
// is invoked for every validated client-error report.
func NewWebSocketManager(onClientErr func(ClientError)) *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[*websocket.Conn]*connWrapper),
		onClientErr: onClientErr,
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection and registers
// it for broadcast, reading client-error reports until the connection
// closes.
func (m *WebSocketManager) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	wrapper := &connWrapper{conn: conn}

	m.mu.Lock()
	m.connections[conn] = wrapper
	m.mu.Unlock()

	go m.readLoop(conn, wrapper)
	return nil
}

func (m *WebSocketManager) readLoop(conn *websocket.Conn, wrapper *connWrapper) {
	defer m.disconnect(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ce ClientError
		if err := json.Unmarshal(data, &ce); err != nil {
			continue
		}
		if !IsValidCategory(ce.Category) {
			logging.Warning("devserver: client reported unknown error category %q", ce.Category)
			continue
		}
		if m.onClientErr != nil {
			m.onClientErr(ce)
		}
	}
}

func (m *WebSocketManager) disconnect(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.connections, conn)
	m.mu.Unlock()
	_ = conn.Close()
}

// ConnectionCount returns the number of active connections.
func (m *WebSocketManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Broadcast sends msg, JSON-encoded, to every connected client, evicting
// any connection whose write fails.
func (m *WebSocketManager) Broadcast(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.RLock()
	snapshot := make([]*connWrapper, 0, len(m.connections))
	for _, w := range m.connections {
		snapshot = append(snapshot, w)
	}
	m.mu.RUnlock()

	var dead []*websocket.Conn
	for _, w := range snapshot {
		w.mu.Lock()
		err := w.conn.WriteMessage(websocket.TextMessage, payload)
		w.mu.Unlock()
		if err != nil {
			dead = append(dead, w.conn)
		}
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, c := range dead {
			delete(m.connections, c)
			_ = c.Close()
		}
		m.mu.Unlock()
	}
	return nil
}

// CloseAll gracefully closes every connection, used on server shutdown.
func (m *WebSocketManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn, w := range m.connections {
		w.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
		w.mu.Unlock()
		_ = conn.Close()
	}
	m.connections = make(map[*websocket.Conn]*connWrapper)
}

// DebugStats is the dev-server debug/stats surface (SUPPLEMENTED FEATURE 4):
// a seam that a host HTTP layer can serialize at "/__build/stats".
type DebugStats struct {
	Cache      cache.Stats     `json:"cache"`
	WorkerPool workerpool.Stats `json:"workerPool"`
	Clients    int             `json:"clients"`
	Logs       []string        `json:"logs"`
}

// CollectDebugStats snapshots the cache, pool, and connection counts plus
// recent log lines, grounded on the teacher's /__cem-debug endpoint design.
func CollectDebugStats(c *cache.Cache, pool *workerpool.Pool, m *WebSocketManager) DebugStats {
	return DebugStats{
		Cache:      c.Stats(),
		WorkerPool: pool.Stats(),
		Clients:    m.ConnectionCount(),
		Logs:       logging.Logs(),
	}
}
