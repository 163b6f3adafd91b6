// Package email sends transactional mail over SMTP, with an optional
// Redis-backed queue for asynchronous delivery.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/common/database"
)

const queueKey = "email:queue"

var invitationTemplate = template.Must(template.New("invitation").Parse(`<html>
<body>
<p>You have been invited to join.</p>
<p><a href="{{.Link}}">Accept your invitation</a></p>
<p>This link expires in 7 days. If you were not expecting this email you can ignore it.</p>
</body>
</html>`))

// Service sends mail via SMTP. When a Redis client is configured,
// messages can also be queued and delivered by ProcessQueue.
type Service struct {
	host     string
	port     int
	username string
	password string
	from     string
	redis    *database.RedisClient
	logger   *zap.Logger
}

// Message is the queue serialization of one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewService creates an email service with the given SMTP configuration.
// redis may be nil; async delivery is then unavailable.
func NewService(host string, port int, username, password, from string, redisClient *database.RedisClient, logger *zap.Logger) *Service {
	return &Service{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		redis:    redisClient,
		logger:   logger.With(zap.String("service", "email")),
	}
}

// SendInvitation renders and delivers an invitation link. Queued when a
// Redis client is available, otherwise sent synchronously.
func (s *Service) SendInvitation(ctx context.Context, to, link string) error {
	var body bytes.Buffer
	if err := invitationTemplate.Execute(&body, map[string]string{"Link": link}); err != nil {
		return fmt.Errorf("render invitation email: %w", err)
	}

	msg := Message{To: to, Subject: "You have been invited", Body: body.String()}
	if s.redis != nil {
		return s.enqueue(ctx, msg)
	}
	return s.send(msg)
}

func (s *Service) send(msg Message) error {
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.from, msg.To, msg.Subject, msg.Body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	if err := smtp.SendMail(addr, auth, s.from, []string{msg.To}, []byte(raw)); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	s.logger.Info("email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func (s *Service) enqueue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email message: %w", err)
	}
	if err := s.redis.Client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	s.logger.Debug("email enqueued", zap.String("to", msg.To))
	return nil
}

// ProcessQueue delivers queued emails until the context is cancelled.
// Run it in a goroutine.
func (s *Service) ProcessQueue(ctx context.Context) {
	if s.redis == nil {
		return
	}
	s.logger.Info("email queue processor started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("email queue processor stopped")
			return
		default:
		}

		result, err := s.redis.Client.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.logger.Error("dequeue email failed", zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) != 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			s.logger.Error("malformed queued email dropped", zap.Error(err))
			continue
		}

		if err := s.send(msg); err != nil {
			s.logger.Error("queued email delivery failed",
				zap.String("to", msg.To), zap.Error(err))
		}
	}
}
