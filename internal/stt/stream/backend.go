package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/stt"
)

const defaultRealtimeURL = "wss://streaming.assemblyai.com/v3/ws"

// WebSocketBackend streams audio to the AssemblyAI realtime API over a
// websocket and decodes Turn events into transcription results.
type WebSocketBackend struct {
	apiKey     string
	url        string
	sampleRate int

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn
}

type realtimeMessage struct {
	Type            string  `json:"type"`
	ID              string  `json:"id,omitempty"`
	Transcript      string  `json:"transcript,omitempty"`
	TurnIsFormatted bool    `json:"turn_is_formatted,omitempty"`
	EndOfTurnConf   float64 `json:"end_of_turn_confidence,omitempty"`
	Error           string  `json:"error,omitempty"`
	Words           []struct {
		Text       string  `json:"text"`
		Start      int     `json:"start"` // milliseconds
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words,omitempty"`
}

type BackendOption func(*WebSocketBackend)

// WithURL redirects the websocket endpoint, used by tests.
func WithURL(u string) BackendOption {
	return func(b *WebSocketBackend) { b.url = u }
}

func NewWebSocketBackend(apiKey string, sampleRate int, opts ...BackendOption) *WebSocketBackend {
	b := &WebSocketBackend{
		apiKey:     apiKey,
		url:        defaultRealtimeURL,
		sampleRate: sampleRate,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *WebSocketBackend) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?sample_rate=%d&format_turns=true", b.url, b.sampleRate)

	header := http.Header{}
	header.Add("Authorization", b.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	log.Debug().Int("sample_rate", b.sampleRate).Msg("Realtime transcription socket connected")
	return nil
}

func (b *WebSocketBackend) Send(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("backend not connected")
	}
	return conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Receive blocks for the next Turn event. Session bookkeeping messages are
// consumed silently; a Termination message ends the stream with io.EOF.
func (b *WebSocketBackend) Receive() (stt.Result, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return stt.Result{}, fmt.Errorf("backend not connected")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return stt.Result{}, io.EOF
			}
			return stt.Result{}, err
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Failed to parse realtime message")
			continue
		}

		switch msg.Type {
		case "Begin":
			log.Debug().Str("session_id", msg.ID).Msg("Realtime session began")
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			return toStreamResult(&msg), nil
		case "Termination":
			return stt.Result{}, io.EOF
		case "Error":
			return stt.Result{}, fmt.Errorf("realtime API error: %s", msg.Error)
		}
	}
}

func toStreamResult(msg *realtimeMessage) stt.Result {
	words := make([]stt.Word, 0, len(msg.Words))
	var confSum float64
	for _, w := range msg.Words {
		words = append(words, stt.Word{
			Text:       w.Text,
			Confidence: w.Confidence,
			Start:      float64(w.Start) / 1000,
			End:        float64(w.End) / 1000,
		})
		confSum += w.Confidence
	}
	var confidence float64
	if len(words) > 0 {
		confidence = confSum / float64(len(words))
	}
	return stt.Result{
		Transcript: msg.Transcript,
		Words:      words,
		Confidence: confidence,
		IsFinal:    msg.TurnIsFormatted,
	}
}

// Close sends the termination message and closes the socket. Safe to call
// before Connect or more than once.
func (b *WebSocketBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}

	terminate, _ := json.Marshal(realtimeMessage{Type: "Terminate"})
	_ = b.conn.WriteMessage(websocket.TextMessage, terminate)

	err := b.conn.Close()
	b.conn = nil
	return err
}
