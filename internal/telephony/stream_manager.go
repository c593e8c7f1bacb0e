// Package telephony terminates Twilio Media Streams WebSocket connections and
// feeds their events into the call pipeline.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	// Twilio does not send an Origin header; requests are authenticated
	// upstream of the gateway.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// TwilioMessage represents a message from Twilio Media Streams
type TwilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Media          *TwilioMedia `json:"media,omitempty"`
	Start          *TwilioStart `json:"start,omitempty"`
	Stop           *TwilioStop  `json:"stop,omitempty"`
	Mark           *TwilioMark  `json:"mark,omitempty"`
}

// TwilioMedia represents the media payload in a media event
type TwilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // Base64 encoded μ-law audio
}

// TwilioStart represents the start event payload
type TwilioStart struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	StreamSid        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// TwilioStop represents the stop event payload
type TwilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TwilioMark names a playback marker, in both directions.
type TwilioMark struct {
	Name string `json:"name"`
}

// outboundMessage is a message sent to Twilio.
type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *TwilioMark    `json:"mark,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// CallHandler is the pipeline side of a media stream. *session.Manager
// implements it.
type CallHandler interface {
	StartCall(ctx context.Context, info session.StartInfo, out session.Outbound) error
	HandleMedia(callID string, frame []byte) error
	HandleMark(callID, name string) error
	EndCall(callID, reason string) error
}

// StreamConfig tunes the WebSocket leg.
type StreamConfig struct {
	// WriteTimeout bounds each outbound message.
	WriteTimeout time.Duration

	// ChunkBytes splits outbound audio into media messages of at most this size.
	ChunkBytes int
}

// StreamHandler serves Twilio Media Streams connections.
type StreamHandler struct {
	calls  CallHandler
	cfg    StreamConfig
	logger zerolog.Logger
}

// NewStreamHandler creates a handler that routes streams to calls.
func NewStreamHandler(calls CallHandler, cfg StreamConfig, logger zerolog.Logger) *StreamHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 3200 // 400ms of 8 kHz μ-law
	}
	return &StreamHandler{
		calls:  calls,
		cfg:    cfg,
		logger: logger.With().Str("component", "telephony").Logger(),
	}
}

// ServeHTTP upgrades the request and runs the stream until Twilio stops it
// or the connection drops.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Twilio WebSocket connection established")
	stream := &twilioStream{conn: conn, cfg: h.cfg, logger: h.logger}
	stream.run(r.Context(), h.calls)
}

// twilioStream is one Media Streams connection. It implements
// session.Outbound for its call.
type twilioStream struct {
	conn   *websocket.Conn
	cfg    StreamConfig
	logger zerolog.Logger

	writeMu   sync.Mutex
	mu        sync.RWMutex
	callID    string
	streamSid string
}

func (s *twilioStream) run(ctx context.Context, calls CallHandler) {
	reason := "disconnect"
	defer func() {
		if callID := s.call(); callID != "" {
			if err := calls.EndCall(callID, reason); err != nil && !errors.Is(err, session.ErrUnknownCall) {
				s.logger.Error().Err(err).Str("call_id", callID).Msg("Failed to end call")
			}
		}
	}()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("call_id", s.call()).Msg("WebSocket read error")
			}
			return
		}

		var msg TwilioMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			observability.RecordError("bad_message", "telephony")
			s.logger.Error().Err(err).Msg("Failed to parse Twilio message")
			continue
		}

		switch msg.Event {
		case "connected":
			s.logger.Debug().Msg("Twilio stream connected")

		case "start":
			if err := s.handleStart(ctx, calls, &msg); err != nil {
				s.logger.Error().Err(err).Msg("Failed to start call")
				reason = "start_failed"
				return
			}

		case "media":
			s.handleMedia(calls, msg.Media)

		case "mark":
			if msg.Mark != nil && s.call() != "" {
				_ = calls.HandleMark(s.call(), msg.Mark.Name)
			}

		case "stop":
			s.logger.Info().Str("call_id", s.call()).Msg("Twilio stream stopped")
			reason = "stop"
			return

		default:
			s.logger.Debug().Str("event", msg.Event).Msg("Unknown Twilio event")
		}
	}
}

func (s *twilioStream) handleStart(ctx context.Context, calls CallHandler, msg *TwilioMessage) error {
	if msg.Start == nil {
		return errors.New("start event without start payload")
	}
	streamSid := msg.Start.StreamSid
	if streamSid == "" {
		streamSid = msg.StreamSid
	}
	params := msg.Start.CustomParameters

	s.mu.Lock()
	s.callID = msg.Start.CallSid
	s.streamSid = streamSid
	s.mu.Unlock()

	s.logger = s.logger.With().Str("call_id", msg.Start.CallSid).Logger()
	return calls.StartCall(ctx, session.StartInfo{
		CallID:    msg.Start.CallSid,
		StreamSID: streamSid,
		From:      firstParam(params, "from", "From", "caller"),
		To:        firstParam(params, "to", "To"),
	}, s)
}

func (s *twilioStream) handleMedia(calls CallHandler, media *TwilioMedia) {
	if media == nil {
		return
	}
	if media.Track != "" && media.Track != "inbound" {
		return
	}
	callID := s.call()
	if callID == "" {
		s.logger.Error().Msg("Media received before start")
		return
	}

	chunk := media.Payload
	if chunk == "" {
		chunk = media.Chunk
	}
	frame, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		observability.RecordDropped("bad_payload")
		s.logger.Warn().Err(err).Msg("Failed to decode base64 audio")
		return
	}
	_ = calls.HandleMedia(callID, frame)
}

func (s *twilioStream) call() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

func (s *twilioStream) sid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSid
}

// SendAudio implements session.Outbound.
func (s *twilioStream) SendAudio(ctx context.Context, mulaw []byte) error {
	for len(mulaw) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(mulaw), s.cfg.ChunkBytes)
		msg := outboundMessage{
			Event:     "media",
			StreamSid: s.sid(),
			Media:     &outboundMedia{Payload: base64.StdEncoding.EncodeToString(mulaw[:n])},
		}
		if err := s.write(msg); err != nil {
			return err
		}
		mulaw = mulaw[n:]
	}
	return nil
}

// SendMark implements session.Outbound.
func (s *twilioStream) SendMark(_ context.Context, name string) error {
	return s.write(outboundMessage{Event: "mark", StreamSid: s.sid(), Mark: &TwilioMark{Name: name}})
}

// Clear implements session.Outbound.
func (s *twilioStream) Clear(context.Context) error {
	return s.write(outboundMessage{Event: "clear", StreamSid: s.sid()})
}

// write serializes writers; gorilla connections allow only one at a time.
func (s *twilioStream) write(msg outboundMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		observability.RecordError("twilio_send_error", "telephony")
		return err
	}
	return nil
}

func firstParam(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := params[k]; v != "" {
			return v
		}
	}
	return ""
}
