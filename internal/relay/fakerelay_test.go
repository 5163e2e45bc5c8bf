package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// fakeRelay speaks enough of the relay protocol for pool tests and serves
// a NIP-11 document on plain GETs.
type fakeRelay struct {
	t      *testing.T
	srv    *httptest.Server
	name   string
	reject string // non-empty: answer OK false with this message
	silent bool   // never answer OK
	noEOSE bool

	mu       sync.Mutex
	stored   []types.Event
	raw      []json.RawMessage // served verbatim after stored events
	peers    map[*websocket.Conn]*fakePeer
	closes   int
	upgrades int
}

type fakePeer struct {
	writeMu sync.Mutex
	subs    map[string][]types.Filter
}

func newFakeRelay(t *testing.T, name string) *fakeRelay {
	f := &fakeRelay{t: t, name: name, peers: make(map[*websocket.Conn]*fakePeer)}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) store(evts ...types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, evts...)
}

func (f *fakeRelay) storedEvents() []types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Event(nil), f.stored...)
}

func (f *fakeRelay) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.peers {
		n += len(p.subs)
	}
	return n
}

func (f *fakeRelay) upgradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upgrades
}

func (f *fakeRelay) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// dropAll closes every client connection from the relay side.
func (f *fakeRelay) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ws := range f.peers {
		ws.Close()
	}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if r.Header.Get("Accept") != "application/nostr+json" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/nostr+json")
		_ = json.NewEncoder(w).Encode(types.RelayInfo{Name: f.name, SupportedNIPs: []int{1, 11}, Software: "fake"})
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &fakePeer{subs: make(map[string][]types.Filter)}
	f.mu.Lock()
	f.peers[ws] = peer
	f.upgrades++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.peers, ws)
		f.mu.Unlock()
		ws.Close()
	}()

	for {
		var msg []json.RawMessage
		if err := ws.ReadJSON(&msg); err != nil || len(msg) < 2 {
			return
		}
		var typ, id string
		_ = json.Unmarshal(msg[0], &typ)

		switch typ {
		case "REQ":
			_ = json.Unmarshal(msg[1], &id)
			var filters []types.Filter
			for _, raw := range msg[2:] {
				var flt types.Filter
				_ = json.Unmarshal(raw, &flt)
				filters = append(filters, flt)
			}
			f.mu.Lock()
			peer.subs[id] = filters
			stored := append([]types.Event(nil), f.stored...)
			raw := append([]json.RawMessage(nil), f.raw...)
			f.mu.Unlock()

			for _, evt := range stored {
				if matchesAny(filters, evt) {
					peer.write(ws, []interface{}{"EVENT", id, evt})
				}
			}
			for _, r := range raw {
				peer.write(ws, []interface{}{"EVENT", id, r})
			}
			if !f.noEOSE {
				peer.write(ws, []interface{}{"EOSE", id})
			}

		case "CLOSE":
			_ = json.Unmarshal(msg[1], &id)
			f.mu.Lock()
			delete(peer.subs, id)
			f.closes++
			f.mu.Unlock()

		case "EVENT":
			var evt types.Event
			_ = json.Unmarshal(msg[1], &evt)
			if f.silent {
				continue
			}
			if f.reject != "" {
				peer.write(ws, []interface{}{"OK", evt.ID, false, f.reject})
				continue
			}
			if !nostr.VerifyEvent(evt) {
				peer.write(ws, []interface{}{"OK", evt.ID, false, "invalid: bad signature"})
				continue
			}
			f.store(evt)
			peer.write(ws, []interface{}{"OK", evt.ID, true, ""})
			f.broadcast(evt)
		}
	}
}

func (f *fakeRelay) broadcast(evt types.Event) {
	f.mu.Lock()
	type target struct {
		ws   *websocket.Conn
		peer *fakePeer
		id   string
	}
	var targets []target
	for ws, peer := range f.peers {
		for id, filters := range peer.subs {
			if matchesAny(filters, evt) {
				targets = append(targets, target{ws, peer, id})
			}
		}
	}
	f.mu.Unlock()

	for _, tg := range targets {
		tg.peer.write(tg.ws, []interface{}{"EVENT", tg.id, evt})
	}
}

func (p *fakePeer) write(ws *websocket.Conn, v interface{}) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = ws.WriteJSON(v)
}

func matchesAny(filters []types.Filter, evt types.Event) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}
