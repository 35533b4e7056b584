// Package mobile implements the QUIC-based mobile channel adapter (spec §4.4).
//
// Mobile clients dial in over QUIC, authenticate with a bearer token on the
// connection's first bidirectional stream, then exchange one message per
// subsequent bidirectional stream using a length-prefixed JSON protocol.
//
// Identity scheme:
//   - channel_id = "mobile:<device_id>:<request_id>" — unique per request,
//     used to route the Agent Runtime's response back to the waiting stream.
//   - session_id = "mobile:<device_id>" — stable per device so conversation
//     history persists across requests.
package mobile

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	quic "github.com/quic-go/quic-go"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

// maxFrameLen bounds one length-prefixed frame read from or written to a
// mobile client stream.
const maxFrameLen = 1 << 20 // 1 MiB

// responseTimeout is how long a message stream waits for the Agent Runtime
// to produce a response before it reports a timeout to the client.
const responseTimeout = 120 * time.Second

type clientMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Message   string `json:"message,omitempty"`
}

func authOkMessage(sessionID string) serverMessage {
	return serverMessage{Type: "auth_ok", SessionID: sessionID}
}

func authErrorMessage(msg string) serverMessage {
	return serverMessage{Type: "auth_error", Message: msg}
}

func responseMessage(content string, isError bool) serverMessage {
	return serverMessage{Type: "response", Content: content, IsError: isError}
}

func errorMessage(msg string) serverMessage {
	return serverMessage{Type: "error", Message: msg}
}

// Adapter is the QUIC channel adapter for mobile clients. One Adapter both
// runs the listener and routes responses back to the stream that is still
// waiting for them, via the shared pending map.
type Adapter struct {
	log        *slog.Logger
	listenAddr string
	apiToken   string

	mu      sync.Mutex
	pending map[string]chan models.AgentResponse
}

// NewAdapter constructs an adapter that will listen on listenAddr and
// require apiToken on every connection's auth frame.
func NewAdapter(listenAddr, apiToken string) *Adapter {
	return &Adapter{
		listenAddr: listenAddr,
		apiToken:   apiToken,
		pending:    make(map[string]chan models.AgentResponse),
	}
}

func (a *Adapter) SetLogger(log *slog.Logger) {
	a.log = log
}

func (a *Adapter) logger() *slog.Logger {
	if a.log != nil {
		return a.log
	}
	return slog.Default()
}

// Run listens for QUIC connections until ctx is cancelled, enqueueing a
// ChannelEvent onto events for every client message it decodes.
func (a *Adapter) Run(ctx context.Context, events chan<- models.ChannelEvent) error {
	tlsConf, err := generateSelfSignedTLSConfig()
	if err != nil {
		return agent.WrapLlmError(agent.KindConnectionFailed, "failed to generate TLS config", err)
	}

	listener, err := quic.ListenAddr(a.listenAddr, tlsConf, nil)
	if err != nil {
		return agent.WrapLlmError(agent.KindConnectionFailed, fmt.Sprintf("failed to listen on %s", a.listenAddr), err)
	}
	defer listener.Close()

	a.logger().Info("mobile adapter listening", "addr", a.listenAddr)

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.logger().Info("mobile adapter shutting down")
				return nil
			}
			a.logger().Warn("mobile: failed to accept connection", "error", err)
			continue
		}
		go a.handleConnection(ctx, conn, events)
	}
}

// SendResponse routes the Agent Runtime's response back to the message
// stream waiting on resp.ChannelID. A response with no matching pending
// entry (timed out, or already answered) is logged and otherwise ignored.
func (a *Adapter) SendResponse(resp models.AgentResponse) {
	a.mu.Lock()
	ch, ok := a.pending[resp.ChannelID]
	if ok {
		delete(a.pending, resp.ChannelID)
	}
	a.mu.Unlock()

	if !ok {
		a.logger().Warn("mobile: no pending request for channel_id", "channel_id", resp.ChannelID)
		return
	}
	ch <- resp
}

func (a *Adapter) handleConnection(ctx context.Context, conn *quic.Conn, events chan<- models.ChannelEvent) {
	authStream, err := conn.AcceptStream(ctx)
	if err != nil {
		a.logger().Warn("mobile: failed to accept auth stream", "error", err)
		return
	}

	authBuf, err := readFrame(authStream)
	if err != nil {
		a.logger().Warn("mobile: failed to read auth frame", "error", err)
		return
	}
	var authMsg clientMessage
	if err := json.Unmarshal(authBuf, &authMsg); err != nil {
		a.logger().Warn("mobile: invalid auth frame", "error", err)
		return
	}
	if authMsg.Type != "auth" {
		writeServerMessage(authStream, authErrorMessage("expected auth message first"))
		authStream.Close()
		return
	}

	deviceID, err := validateAuth(authMsg, a.apiToken)
	if err != nil {
		writeServerMessage(authStream, authErrorMessage(err.Error()))
		authStream.Close()
		return
	}
	if err := writeServerMessage(authStream, authOkMessage(MakeSessionID(deviceID))); err != nil {
		a.logger().Warn("mobile: failed to write auth_ok", "error", err)
		return
	}
	authStream.Close()

	a.logger().Info("mobile: device authenticated", "device_id", deviceID)

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger().Info("mobile: device disconnected", "device_id", deviceID)
			}
			return
		}
		go a.handleMessageStream(ctx, stream, events, deviceID)
	}
}

func (a *Adapter) handleMessageStream(ctx context.Context, stream *quic.Stream, events chan<- models.ChannelEvent, deviceID string) {
	defer stream.Close()

	buf, err := readFrame(stream)
	if err != nil {
		a.logger().Warn("mobile: failed to read message frame", "error", err)
		return
	}
	var msg clientMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		writeServerMessage(stream, errorMessage("invalid message frame"))
		return
	}
	if msg.Type != "message" {
		writeServerMessage(stream, errorMessage("expected message, got "+msg.Type))
		return
	}

	requestID := uuid.NewString()
	channelID := MakeChannelID(deviceID, requestID)
	sessionID := MakeSessionID(deviceID)

	respCh := make(chan models.AgentResponse, 1)
	a.mu.Lock()
	a.pending[channelID] = respCh
	a.mu.Unlock()

	select {
	case events <- models.ChannelEvent{ChannelID: channelID, SessionID: sessionID, UserMessage: msg.Text}:
	default:
		a.mu.Lock()
		delete(a.pending, channelID)
		a.mu.Unlock()
		writeServerMessage(stream, errorMessage("agent unavailable"))
		return
	}

	var out serverMessage
	select {
	case resp := <-respCh:
		out = responseMessage(resp.Content, resp.IsError)
	case <-time.After(responseTimeout):
		a.mu.Lock()
		delete(a.pending, channelID)
		a.mu.Unlock()
		out = errorMessage("request timed out")
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.pending, channelID)
		a.mu.Unlock()
		return
	}

	if err := writeServerMessage(stream, out); err != nil {
		a.logger().Warn("mobile: failed to write response", "error", err)
	}
}

// validateAuth checks req's bearer token and returns the device id on
// success.
func validateAuth(req clientMessage, expectedToken string) (string, error) {
	if req.Token != expectedToken {
		return "", agent.NewLlmError(agent.KindAuthFailed, "invalid API token")
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", agent.NewLlmError(agent.KindAuthFailed, "device_id must not be empty")
	}
	return req.DeviceID, nil
}

// MakeChannelID builds the compound channel_id used as the pending-response
// lookup key: "mobile:<device_id>:<request_id>".
func MakeChannelID(deviceID, requestID string) string {
	return "mobile:" + deviceID + ":" + requestID
}

// MakeSessionID builds the stable per-device session_id: "mobile:<device_id>".
func MakeSessionID(deviceID string) string {
	return "mobile:" + deviceID
}

// ParseMobileChannelID extracts (deviceID, requestID) from a compound
// mobile channel_id. It splits on the LAST ':' so deviceID may itself
// contain colons. Returns false if channelID isn't in the expected
// "mobile:<d>:<r>" form.
func ParseMobileChannelID(channelID string) (deviceID, requestID string, ok bool) {
	rest, found := strings.CutPrefix(channelID, "mobile:")
	if !found {
		return "", "", false
	}
	sep := strings.LastIndex(rest, ":")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+1:], true
}

// readFrame reads one length-prefixed (4-byte big-endian) frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, agent.WrapLlmError(agent.KindConnectionFailed, "failed to read frame length", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameLen {
		return nil, agent.NewLlmError(agent.KindConnectionFailed, "frame too large")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, agent.WrapLlmError(agent.KindConnectionFailed, "failed to read frame body", err)
	}
	return buf, nil
}

// writeFrame writes one length-prefixed frame to w.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return agent.WrapLlmError(agent.KindSendFailed, "failed to write frame length", err)
	}
	if _, err := w.Write(payload); err != nil {
		return agent.WrapLlmError(agent.KindSendFailed, "failed to write frame body", err)
	}
	return nil
}

func writeServerMessage(w io.Writer, msg serverMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return agent.WrapLlmError(agent.KindSendFailed, "failed to encode server message", err)
	}
	return writeFrame(w, payload)
}

// generateSelfSignedTLSConfig builds a throwaway TLS certificate for the
// QUIC listener. Mobile clients are expected to pin or ignore the server
// certificate and rely on the bearer token for authentication, matching
// the teacher's self-signed-certificate pattern for loopback services.
func generateSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"openpista"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"openpista-mobile"},
	}, nil
}
