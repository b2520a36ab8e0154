package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astiws"
)

// Pusher receives marshaled push events
type Pusher interface {
	io.Writer
}

type pushEventName string

const (
	// Sent to a dashboard that asked for the sessions it missed
	pushEventNameCatchUp pushEventName = "catch_up"
	pushEventNameDelta   pushEventName = "delta"
	pushEventNamePing    pushEventName = "ping"
)

type pushEvent struct {
	Name    pushEventName `json:"name"`
	Payload interface{}   `json:"payload,omitempty"`
}

func marshalPushEvent(n pushEventName, payload interface{}) ([]byte, error) {
	b, err := json.Marshal(pushEvent{
		Name:    n,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("server: marshaling %s push event failed: %w", n, err)
	}
	return b, nil
}

// websocketPusher broadcasts deltas to every connected dashboard and answers catch up
// requests on the requesting connection only
type websocketPusher struct {
	s  *Server
	ws *astiws.Server
}

func (s *Server) newWebsocketPusher() *websocketPusher {
	p := &websocketPusher{s: s}
	p.ws = astiws.NewServer(astiws.ServerOptions{
		ClientAdapter:  p.adaptClient,
		Logger:         s.l,
		MaxMessageSize: 1e6,
	})
	return p
}

func (p *websocketPusher) Close() error {
	return p.ws.Close()
}

func (p *websocketPusher) adaptClient(c *astiws.Client) error {
	// Clients live as long as the server
	*c = *c.WithContext(p.s.ctx)

	// Handle dashboard messages
	c.SetMessageHandler(func(m []byte) error {
		// Unmarshal
		var e pushEvent
		if err := json.Unmarshal(m, &e); err != nil {
			return fmt.Errorf("server: unmarshaling dashboard message failed: %w", err)
		}

		switch e.Name {
		case pushEventNameCatchUp:
			b, err := marshalPushEvent(pushEventNameCatchUp, p.s.catchUp())
			if err != nil {
				return err
			}
			if err = c.WriteText(b); err != nil {
				return fmt.Errorf("server: writing catch up failed: %w", err)
			}
		case pushEventNamePing:
			if err := c.ExtendConnection(); err != nil {
				return fmt.Errorf("server: extending dashboard connection failed: %w", err)
			}
		}
		return nil
	})
	return nil
}

// Write doesn't stop at the first failing dashboard
func (p *websocketPusher) Write(b []byte) (int, error) {
	errs := astikit.NewErrors()
	for _, c := range p.ws.Clients() {
		if err := c.WriteText(b); err != nil {
			errs.Add(fmt.Errorf("server: writing to dashboard failed: %w", err))
		}
	}
	if !errs.IsNil() {
		return 0, errs
	}
	return len(b), nil
}

func (p *websocketPusher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.ws.ServeHTTP(w, r)
}
