package download

import "net/http"

// sessionPool implements the three client-sharing modes the segmented path
// supports: one shared client, a fixed round-robin pool, or a fresh client
// per worker.
type sessionPool struct {
	clients  []*http.Client
	owned    bool
	perIndex bool
}

func newSessionPool(multiSession bool, poolSize, workers int, shared *http.Client) *sessionPool {
	if !multiSession {
		return &sessionPool{clients: []*http.Client{shared}}
	}
	if poolSize > 0 {
		clients := make([]*http.Client, poolSize)
		for i := range clients {
			clients[i] = newClient()
		}
		return &sessionPool{clients: clients, owned: true}
	}
	clients := make([]*http.Client, workers)
	for i := range clients {
		clients[i] = newClient()
	}
	return &sessionPool{clients: clients, owned: true, perIndex: true}
}

func (p *sessionPool) clientFor(workerIndex int) *http.Client {
	return p.clients[workerIndex%len(p.clients)]
}

func (p *sessionPool) close() {
	if !p.owned {
		return
	}
	for _, c := range p.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
