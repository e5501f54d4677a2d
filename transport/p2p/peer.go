package p2p

import (
	"peer-chat/domain"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// peerConn is one established channel. Only writePump writes data frames.
type peerConn struct {
	link *link
	info domain.PeerInfo
	ws   *websocket.Conn
	send chan domain.Frame

	done      chan struct{}
	closeOnce sync.Once
}

func newPeerConn(l *link, info domain.PeerInfo, ws *websocket.Conn) *peerConn {
	return &peerConn{
		link: l,
		info: info,
		ws:   ws,
		send: make(chan domain.Frame, l.t.cfg.SendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue never blocks: a congested channel loses the frame.
func (p *peerConn) enqueue(frame domain.Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *peerConn) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

// leave tells the other side this is a normal closure.
func (p *peerConn) leave() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving")
	_ = p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.link.t.cfg.WriteWait))
	p.close()
}

func (p *peerConn) readPump() {
	cfg := p.link.t.cfg
	p.ws.SetReadLimit(cfg.MaxFrameBytes)
	_ = p.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		var frame domain.Frame
		if err := p.ws.ReadJSON(&frame); err != nil {
			p.link.t.log.Debug("Peer channel closed", "room", p.link.room, "peer", p.info.ID.Short(), "error", err)
			p.link.dropPeer(p, err)
			return
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		p.link.emit(domain.FrameReceived{From: p.info.ID, Frame: frame})
	}
}

func (p *peerConn) writePump() {
	cfg := p.link.t.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := p.ws.WriteJSON(frame); err != nil {
				p.link.t.log.Debug("Peer write failed", "room", p.link.room, "peer", p.info.ID.Short(), "error", err)
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				p.close()
				return
			}
		}
	}
}
