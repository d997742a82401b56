package alert

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/webhook"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

type sendFunc func(ctx context.Context, embed discord.Embed) error

// FatalAlerter posts a Discord message whenever an order book gives up syncing.
type FatalAlerter struct {
	send   sendFunc
	logger *zap.Logger
}

func NewFatalAlerter(webhookURL string, logger *zap.Logger) (*FatalAlerter, error) {
	if webhookURL == "" {
		return nil, errors.New("discord webhook url is empty")
	}
	return &FatalAlerter{
		send:   webhookSender(webhookURL),
		logger: logger,
	}, nil
}

func webhookSender(url string) sendFunc {
	return func(ctx context.Context, embed discord.Embed) error {
		client, err := webhook.NewWithURL(url)
		if err != nil {
			return err
		}
		defer client.Close(ctx)

		_, err = client.CreateEmbeds([]discord.Embed{embed})
		return err
	}
}

func (a *FatalAlerter) Hooks() domain.MaintainerHooks {
	return domain.MaintainerHooks{
		OnStateChange: func(change domain.StateChange) {
			if change.To != domain.SyncState_Fatal {
				return
			}
			go a.Alert(change)
		},
	}
}

func (a *FatalAlerter) Alert(change domain.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := a.send(ctx, fatalEmbed(change)); err != nil {
		a.logger.Error("failed to send message to discord", zap.String("symbol", change.Symbol), zap.Error(err))
	}
}

func fatalEmbed(change domain.StateChange) discord.Embed {
	reason := "unknown"
	if change.Reason != nil {
		reason = change.Reason.Error()
	}
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	return discord.NewEmbedBuilder().
		SetTitle("Order book sync stopped").
		SetColor(0xff0000).
		AddField("Symbol", change.Symbol, true).
		AddField("Previous State", change.From.String(), true).
		AddField("\u200B", "\u200B", false).
		AddField("Reason", reason, false).
		AddField("At", at.UTC().Format(time.RFC3339), false).
		Build()
}
