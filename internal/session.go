package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"
)

// RelayRoute upgrades the request and runs the connection until the channel
// closes. One goroutine reads frames and mutates the registry, one keeps
// the socket alive; the handler itself drains the send queue, so each
// socket has exactly one writer.
func RelayRoute(
	reg *SessionRegistry,
	logger *slog.Logger,
	rdb *redis.Client,
	instanceID string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		now := time.Now()

		kid, err := ksuid.NewRandom()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		id := kid.String()
		rid := fmt.Sprintf("cb:%v", id)
		log := logger.With(slog.String("connection", id))

		opts := &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}

		_, sendQueue := reg.Add(id)

		if rdb != nil {
			data := map[string]string{
				"inst": instanceID,
				"join": strconv.Itoa(int(now.Unix())),
				"recv": "0",
				"sent": "0",
			}

			if err := rdb.HSet(ctx, rid, data).Err(); err != nil {
				log.Error("failed to record presence", err)
			}

			if err := rdb.Expire(ctx, rid, 90*time.Second).Err(); err != nil {
				log.Error("failed to set presence expiry", err)
			}
		}

		defer func() {
			sessionID := reg.Remove(id)
			if sessionID != "" {
				reg.Broadcast(sessionID, id, Envelope{Type: EventTypePeerDisconnected})
			}

			if rdb != nil {
				if err := rdb.Del(context.Background(), rid).Err(); err != nil {
					log.Error("failed to cleanup presence", err)
				}
			}
		}()

		go func() {
			defer cancel()
			for {
				typ, b, err := conn.Read(ctx)
				if err != nil {
					return
				}

				if typ != websocket.MessageText {
					log.Warn("dropping non-text frame")
					continue
				}

				if rdb != nil {
					if err := rdb.HIncrBy(ctx, rid, "recv", 1).Err(); err != nil {
						log.Error("failed to update received stats", err)
					}
				}

				handleFrame(reg, log, rdb, rid, id, b)
			}
		}()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(45 * time.Second):
					if err := conn.Ping(ctx); err != nil {
						log.Error("failed to ping", err)
						_ = conn.Close(websocket.StatusAbnormalClosure, "hello?")
						return
					}

					if rdb != nil {
						if err := rdb.Expire(ctx, rid, 90*time.Second).Err(); err != nil {
							log.Error("failed to extend presence expiry", err)
						}
					}
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info("left")
				return
			case msg := <-sendQueue:
				if msg.Drop {
					_ = conn.Close(websocket.StatusNormalClosure, "bye")
					return
				}

				if err := conn.Write(ctx, websocket.MessageText, msg.Buffer); err != nil {
					log.Error("failed to write message", err)
					return
				}

				if rdb != nil {
					if err := rdb.HIncrBy(ctx, rid, "sent", 1).Err(); err != nil {
						log.Error("failed to update sent stats", err)
					}
				}
			}
		}
	}
}

// handleFrame runs the relay state machine for one inbound frame. Anything
// malformed is logged and dropped; the channel stays open.
func handleFrame(
	reg *SessionRegistry,
	log *slog.Logger,
	rdb *redis.Client,
	rid, id string,
	b []byte,
) {
	env := Envelope{}
	if err := json.Unmarshal(b, &env); err != nil {
		log.Warn("dropping malformed frame", slog.String("reason", err.Error()))
		return
	}

	switch env.Type {
	case EventTypeCreateSession:
		sessionID, err := NewSessionCode()
		if err != nil {
			log.Error("failed to generate session code", err)
			return
		}

		reg.Bind(id, sessionID, RoleHost)
		if rdb != nil {
			setPresenceSession(rdb, rid, sessionID, RoleHost, log)
		}

		ack, err := json.Marshal(SessionAckPayload{SessionID: sessionID, Role: RoleHost})
		if err != nil {
			return
		}

		reg.Send(id, Envelope{Type: EventTypeSessionCreated, Payload: ack})

	case EventTypeJoinSession:
		if env.SessionID == "" {
			log.Warn("dropping join with no session id")
			return
		}

		// No existence or occupancy check: joining a dead or full session
		// succeeds and the caller only notices from the silence.
		reg.Bind(id, env.SessionID, RoleGuest)
		if rdb != nil {
			setPresenceSession(rdb, rid, env.SessionID, RoleGuest, log)
		}

		ack, err := json.Marshal(SessionAckPayload{SessionID: env.SessionID, Role: RoleGuest})
		if err != nil {
			return
		}

		reg.Send(id, Envelope{Type: EventTypeSessionJoined, Payload: ack})
		reg.Broadcast(env.SessionID, id, Envelope{Type: EventTypeGuestJoined})

	default:
		if !env.Type.Forwardable() {
			log.Warn("dropping unknown frame type", slog.String("type", string(env.Type)))
			return
		}

		if env.SessionID == "" {
			log.Warn("dropping frame with no session id", slog.String("type", string(env.Type)))
			return
		}

		if err := ValidatePayload(env); err != nil {
			log.Warn("dropping frame", slog.String("reason", err.Error()))
			return
		}

		reg.Broadcast(env.SessionID, id, Envelope{Type: env.Type, Payload: env.Payload})
	}
}

func setPresenceSession(rdb *redis.Client, rid, sessionID string, role Role, log *slog.Logger) {
	data := map[string]string{
		"sess": sessionID,
		"role": string(role),
	}

	if err := rdb.HSet(context.Background(), rid, data).Err(); err != nil {
		log.Error("failed to record session presence", err)
	}
}
