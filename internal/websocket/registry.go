package websocket

import (
	"log"
	"sync"
)

// Registry tracks live connections by connection id, with a secondary
// index per browser client.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connection id -> Connection
	clients     map[string]map[string]*Connection // client id -> connection id -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		clients:     make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds an authenticated connection.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	clientID := conn.GetClientID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	if r.clients[clientID] == nil {
		r.clients[clientID] = make(map[string]*Connection)
	}
	r.clients[clientID][conn.ID()] = conn

	return nil
}

// UnregisterConnection removes conn. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; !exists {
		return
	}
	delete(r.connections, conn.ID())

	clientID := conn.GetClientID()
	if conns, exists := r.clients[clientID]; exists {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.clients, clientID)
		}
	}
}

// GetAllConnections returns every registered connection for broadcasting.
func (r *Registry) GetAllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// GetClientConnections returns the connections opened by one browser client.
func (r *Registry) GetClientConnections(clientID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.clients[clientID] {
		connections = append(connections, conn)
	}
	return connections
}

// CloseAll closes and removes every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	connections := r.connections
	r.connections = make(map[string]*Connection)
	r.clients = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range connections {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection: id=%s: %v", conn.ID(), err)
		}
	}
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admins := 0
	for _, conn := range r.connections {
		if conn.GetRole() == RoleAdmin {
			admins++
		}
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"admin_connections": admins,
		"unique_clients":    len(r.clients),
	}
}
