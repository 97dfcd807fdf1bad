package signalling

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"packshare/internal/config"
	"packshare/pkg/types"
)

// FirebaseMailbox stores answers in the Realtime Database under sessions/<code>
type FirebaseMailbox struct {
	ref          *db.Ref
	pollInterval time.Duration
}

// mailboxSession is the node stored per share code
type mailboxSession struct {
	ID     string `json:"sessionId"`
	Answer string `json:"answer"`
}

func NewFirebaseMailbox(ctx context.Context, cfg *config.FirebaseConfig) (*FirebaseMailbox, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseMailbox{
		ref:          client.NewRef("sessions"),
		pollInterval: pollInterval(cfg.PollInterval),
	}, nil
}

// PostAnswer writes the answer for a share code
func (f *FirebaseMailbox) PostAnswer(ctx context.Context, shareCode, answer string) error {
	err := f.ref.Child(shareCode).Set(ctx, mailboxSession{ID: shareCode, Answer: answer})
	if err != nil {
		return fmt.Errorf("%w: error posting answer for session %s: %v", types.ErrConnection, shareCode, err)
	}
	return nil
}

// WaitForAnswer polls until an answer appears or ctx ends
func (f *FirebaseMailbox) WaitForAnswer(ctx context.Context, shareCode string) (string, error) {
	sessionRef := f.ref.Child(shareCode)
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		var session mailboxSession
		if err := sessionRef.Get(ctx, &session); err != nil {
			logrus.WithFields(logrus.Fields{"share_code": shareCode}).Warnf("Mailbox poll failed: %v", err)
		} else if session.Answer != "" {
			return session.Answer, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// DeleteSession removes the node for a share code; missing nodes are not an error
func (f *FirebaseMailbox) DeleteSession(ctx context.Context, shareCode string) error {
	if err := f.ref.Child(shareCode).Delete(ctx); err != nil {
		return fmt.Errorf("error deleting session %s: %w", shareCode, err)
	}
	return nil
}
