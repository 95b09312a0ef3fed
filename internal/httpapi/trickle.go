package httpapi

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/tarpit/internal/protocol"
)

var errClientStop = errors.New("client requested stop")

// handleTrickleWS keeps a websocket client busy with generated paragraphs
// until it leaves, asks to stop, or WSMaxDuration elapses.
func (s *Server) handleTrickleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	logger := s.logger.With("ip", ip, "transport", "ws")
	s.observe(r, ip, logger)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	started := time.Now()
	sess := s.sessions.Create(ip, r.URL.Path, "ws")
	logger = logger.With("session_id", sess.ID)
	s.metrics.StreamStarted()
	defer s.metrics.StreamFinished()

	clientCtx, stop := context.WithCancelCause(r.Context())
	defer stop(nil)
	ctx, cancel := context.WithTimeout(clientCtx, s.cfg.WSMaxDuration)
	defer cancel()

	conn.SetReadLimit(4 << 10)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				stop(err)
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				continue
			}
			if control, ok := msg.(protocol.ClientControl); ok && control.Action == protocol.ActionStop {
				stop(errClientStop)
				return
			}
		}
	}()

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	seq := 0
sendLoop:
	for ctx.Err() == nil {
		out := s.text.GenerateWithRand(ctx, rng, 1)
		for _, paragraph := range strings.Split(out, "\n") {
			if ctx.Err() != nil {
				break sendLoop
			}
			seq++
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := writeFrame(conn, protocol.NewParagraph(seq, paragraph)); err != nil {
				stop(err)
				break sendLoop
			}
			_ = s.sessions.RecordParagraph(sess.ID)
			if err := s.sleep(ctx, s.streamDelay()); err != nil {
				break sendLoop
			}
		}
	}

	reason := protocol.ReasonDisconnected
	switch {
	case errors.Is(context.Cause(clientCtx), errClientStop):
		reason = protocol.ReasonClientStop
	case clientCtx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = protocol.ReasonMaxDuration
	}
	if reason != protocol.ReasonDisconnected {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = writeFrame(conn, protocol.NewEnd(reason, seq))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	}
	_ = conn.Close()
	<-readerDone
	_, _ = s.sessions.End(sess.ID, reason)

	s.metrics.ObservePage("ws", time.Since(started))
	logger.Info("trickle stream finished", "reason", reason, "paragraphs", seq, "elapsed", time.Since(started).Round(time.Millisecond))
}

func writeFrame(conn *websocket.Conn, frame any) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
