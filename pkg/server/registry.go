// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"sync"
	"time"
)

type registry struct {
	lock           sync.RWMutex // Protects the entire registry
	clients        map[uint64]*client
	rooms          map[string]*room
	createdTime    time.Time
	maxRooms       int
	maxRoomsTime   time.Time
	maxClients     int
	maxClientsTime time.Time
}

func newRegistry(now time.Time) *registry {
	return &registry{
		clients:        make(map[uint64]*client),
		rooms:          make(map[string]*room),
		createdTime:    now,
		maxRoomsTime:   now,
		maxClientsTime: now,
	}
}

// Stats contains summary information about a registry.
type Stats struct {
	Uptime         time.Duration `json:"uptime"`
	NumRooms       int           `json:"num_rooms"`
	MaxRooms       int           `json:"max_rooms"`
	MaxRoomsTime   time.Time     `json:"max_rooms_at"`
	NumClients     int           `json:"num_clients"`
	MaxClients     int           `json:"max_clients"`
	MaxClientsTime time.Time     `json:"max_clients_at"`
}

// Stats gets stats for this registry.
func (reg *registry) Stats() Stats {
	reg.lock.RLock()
	defer reg.lock.RUnlock()

	return Stats{
		Uptime:         time.Since(reg.createdTime),
		NumRooms:       len(reg.rooms),
		MaxRooms:       reg.maxRooms,
		MaxRoomsTime:   reg.maxRoomsTime,
		NumClients:     len(reg.clients),
		MaxClients:     reg.maxClients,
		MaxClientsTime: reg.maxClientsTime,
	}
}

// addClient records a connected client.
func (reg *registry) addClient(c *client) {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	reg.clients[c.id] = c
	if len(reg.clients) > reg.maxClients {
		reg.maxClients = len(reg.clients)
		reg.maxClientsTime = time.Now()
	}
}

// removeClient forgets a disconnected client.
func (reg *registry) removeClient(id uint64) {
	reg.lock.Lock()
	defer reg.lock.Unlock()
	delete(reg.clients, id)
}

// eachClient calls fn for every connected client, with the registry locked for reading.
func (reg *registry) eachClient(fn func(*client)) {
	reg.lock.RLock()
	defer reg.lock.RUnlock()
	for _, c := range reg.clients {
		fn(c)
	}
}
