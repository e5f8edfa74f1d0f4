package lighting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/charbooth/internal/protocol"
)

var ErrNotStarted = errors.New("lighting driver not started")

const wsWriteTimeout = 250 * time.Millisecond

// WebSocketDriver streams brightness frames to a networked light controller.
type WebSocketDriver struct {
	url     string
	boothID string
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	seq  int64
}

func NewWebSocketDriver(url, boothID string) *WebSocketDriver {
	return &WebSocketDriver{
		url:     url,
		boothID: boothID,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

func (d *WebSocketDriver) Start(ctx context.Context) error {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial light controller: %w", err)
	}
	d.mu.Lock()
	old := d.conn
	d.conn = conn
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (d *WebSocketDriver) SetBrightness(value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(protocol.TypeLightLevel, value)
}

func (d *WebSocketDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	sendErr := d.sendLocked(protocol.TypeLightOff, 0)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "booth stopping")
	_ = d.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(wsWriteTimeout))
	closeErr := d.conn.Close()
	d.conn = nil
	return errors.Join(sendErr, closeErr)
}

func (d *WebSocketDriver) sendLocked(typ protocol.MessageType, value uint8) error {
	if d.conn == nil {
		return ErrNotStarted
	}
	d.seq++
	frame := protocol.LightFrame{
		Type:    typ,
		BoothID: d.boothID,
		Seq:     d.seq,
		Level:   float64(value) / MaxBrightness,
		TSMs:    time.Now().UnixMilli(),
	}
	_ = d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := d.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write light frame: %w", err)
	}
	return nil
}
