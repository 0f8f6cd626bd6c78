package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/edibez/cryptochat/internal/dialogue"
	"github.com/edibez/cryptochat/internal/markup"
	"github.com/edibez/cryptochat/pkg/types"
)

// Chat event types
const (
	EventMessage = "message" // client -> server
	EventWelcome = "welcome"
	EventReply   = "reply"
	EventBusy    = "busy"
	EventError   = "error"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// chatSession binds one websocket connection to one dialogue session
type chatSession struct {
	srv  *Server
	conn *websocket.Conn
	ctrl *dialogue.Controller
	key  string

	writeMu sync.Mutex
	turns   sync.WaitGroup
	done    chan struct{}
}

// handleChat upgrades the connection and serves one session until the client
// goes away
func (s *Server) handleChat(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cs := &chatSession{
		srv:  s,
		conn: conn,
		ctrl: s.newController(s.handler),
		key:  "client:" + c.ClientIP(),
		done: make(chan struct{}),
	}
	s.logger.Info("chat session opened", "session", cs.ctrl.ID())

	go cs.keepAlive()
	cs.readPump()
}

func (cs *chatSession) readPump() {
	defer func() {
		close(cs.done)
		cs.ctrl.Close()
		cs.turns.Wait()
		cs.conn.Close()
		cs.srv.logger.Info("chat session closed", "session", cs.ctrl.ID())
	}()

	cs.conn.SetReadLimit(maxFrameSize)
	cs.conn.SetReadDeadline(time.Now().Add(pongWait))
	cs.conn.SetPongHandler(func(string) error {
		return cs.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	welcome := cs.ctrl.Messages()[0]
	if err := cs.send(types.ChatEvent{
		Type:         EventWelcome,
		Role:         welcome.Role,
		Text:         welcome.Text,
		Document:     markup.Parse(welcome.Text),
		QuickPrompts: cs.ctrl.QuickPrompts(),
	}); err != nil {
		return
	}

	for {
		var in types.ChatEvent
		if err := cs.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cs.srv.logger.Warn("chat read failed", "session", cs.ctrl.ID(), "error", err)
			}
			return
		}

		if in.Type != EventMessage {
			cs.send(types.ChatEvent{Type: EventError, Error: "unsupported event type"})
			continue
		}
		if cs.ctrl.Busy() {
			cs.send(types.ChatEvent{Type: EventBusy, Error: dialogue.ErrBusy.Error()})
			continue
		}
		if !cs.allow() {
			cs.send(types.ChatEvent{Type: EventError, Error: "rate limit exceeded"})
			continue
		}

		cs.turns.Add(1)
		go cs.submit(in.Text)
	}
}

func (cs *chatSession) submit(text string) {
	defer cs.turns.Done()

	reply, err := cs.ctrl.Submit(context.Background(), text)
	switch {
	case errors.Is(err, dialogue.ErrClosed):
		return
	case errors.Is(err, dialogue.ErrBusy):
		cs.send(types.ChatEvent{Type: EventBusy, Error: err.Error()})
	case err != nil:
		cs.send(types.ChatEvent{Type: EventError, Error: err.Error()})
	default:
		cs.send(types.ChatEvent{
			Type:     EventReply,
			Role:     types.RoleAssistant,
			Text:     reply,
			Document: markup.Parse(reply),
		})
	}
}

func (cs *chatSession) allow() bool {
	if cs.srv.limiter == nil {
		return true
	}
	ok, _, err := cs.srv.limiter.Allow(context.Background(), cs.key)
	if err != nil {
		cs.srv.logger.Warn("rate limit check failed", "error", err)
		return true
	}
	return ok
}

func (cs *chatSession) send(ev types.ChatEvent) error {
	ev.SessionID = cs.ctrl.ID()
	ev.Timestamp = time.Now()

	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	cs.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cs.conn.WriteJSON(ev); err != nil {
		cs.srv.logger.Debug("chat write failed", "session", cs.ctrl.ID(), "error", err)
		return err
	}
	return nil
}

func (cs *chatSession) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.done:
			return
		case <-ticker.C:
			cs.writeMu.Lock()
			err := cs.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			cs.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
