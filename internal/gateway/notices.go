package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage-gateway-go/internal/common"
	"sage-gateway-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	replyNoBalance      = "You don't have any outstanding balance!"
	replyLinkFailed     = "Sorry, I couldn't create a payment link right now. Please try again in a moment."
	replyContactSupport = "Your account is locked but shows no outstanding balance. Please contact a server moderator so we can sort it out."
)

func welcomeMessage(userId string) string {
	return fmt.Sprintf("Hey %s, welcome! This is our OCD support bot, inspired by the Banana Water parable.\n\n"+
		"The story reflects common struggles with compulsions and connects to ACT (Acceptance and Commitment Therapy), "+
		"which many find helpful in managing OCD.\n\n"+
		"A member of our server came up with the parable, and we thought it'd be a great foundation for a bot like this. "+
		"We hope it helps, even just a little. 🙂", mention(userId))
}

func mention(userId string) string {
	return "<@" + userId + ">"
}

// denyAccess removes the message and sends the payment request privately,
// falling back to a short-lived channel post.
func (g *Gateway) denyAccess(ctx context.Context, logger *zap.Logger, msg Message, decision *models.AccessDecision) {
	if err := g.messenger.Delete(ctx, msg.ChannelId, msg.Id); err != nil {
		logger.Debug("Could not delete message", zap.Error(err))
	}

	delay := g.delays.lockGate
	if decision.NewlyLocked {
		delay = g.delays.thresholdReached
	}

	notice, err := g.paymentNotice(ctx, msg.AuthorId, decision.Balance, decision.Threshold, decision.NewlyLocked)
	if err != nil {
		logger.Error("Failed to build payment notice", zap.Error(err))
		notice = replyLinkFailed
	}
	g.sendPrivately(ctx, logger, msg, notice, delay)
}

// paymentNotice describes the outstanding balance with a payment link. A
// lock without a balance cannot be paid off and is referred to support.
func (g *Gateway) paymentNotice(ctx context.Context, userId string, balance, threshold decimal.Decimal, thresholdReached bool) (string, error) {
	if !balance.IsPositive() {
		zap.L().Warn("User locked with zero balance", zap.String("user_id", userId))
		return replyContactSupport, nil
	}

	link, _, err := g.ledger.GeneratePaymentLink(ctx, userId, balance)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if thresholdReached {
		b.WriteString("💳 **Payment Threshold Reached**\n")
		fmt.Fprintf(&b, "Your usage has reached **%s**.\nPlease complete payment to continue using the bot.\n", common.FormatUSD(balance))
	} else {
		b.WriteString("⚠️ **Payment Required**\n")
		fmt.Fprintf(&b, "You have an outstanding balance of **%s**.\nPlease complete your payment to continue using the bot.\n", common.FormatUSD(balance))
	}
	fmt.Fprintf(&b, "Threshold: %s | Current Balance: %s\n", common.FormatUSD(threshold), common.FormatUSD(balance))
	fmt.Fprintf(&b, "☕ Pay %s via Ko-fi: %s", common.FormatUSD(balance), link)
	return b.String(), nil
}

func (g *Gateway) sendPrivately(ctx context.Context, logger *zap.Logger, msg Message, content string, deleteAfter time.Duration) {
	err := g.messenger.SendDM(ctx, msg.AuthorId, content)
	if err == nil {
		return
	}
	logger.Debug("DM failed, posting in channel", zap.Error(err))

	id, err := g.messenger.Send(ctx, msg.ChannelId, mention(msg.AuthorId)+"\n"+content)
	if err != nil {
		logger.Error("Failed to post payment notice", zap.Error(err))
		return
	}
	g.deleteLater(msg.ChannelId, id, deleteAfter)
}

func (g *Gateway) deleteLater(channelId, messageId string, after time.Duration) {
	time.AfterFunc(after, func() {
		if err := g.messenger.Delete(context.Background(), channelId, messageId); err != nil {
			zap.L().Debug("Could not delete message", zap.String("message_id", messageId), zap.Error(err))
		}
	})
}

func (g *Gateway) handleBalance(ctx context.Context, logger *zap.Logger, msg Message) {
	account, err := g.ledger.AccountSummary(ctx, msg.AuthorId)
	if err != nil {
		logger.Error("Failed to load account", zap.Error(err))
		g.reply(ctx, logger, msg, replyBroken)
		return
	}

	status := "✅ Active"
	if account.Locked {
		status = "🔒 Locked"
	}

	var b strings.Builder
	b.WriteString("💰 **Your Balance**\n")
	fmt.Fprintf(&b, "Current Balance: %s\nThreshold: %s\nStatus: %s", common.FormatUSD(account.Balance), common.FormatUSD(account.Threshold), status)

	if account.Locked {
		notice, err := g.paymentNotice(ctx, msg.AuthorId, account.Balance, account.Threshold, false)
		if err != nil {
			logger.Error("Failed to build payment notice", zap.Error(err))
			notice = replyLinkFailed
		}
		b.WriteString("\n\n")
		b.WriteString(notice)
	}
	g.reply(ctx, logger, msg, b.String())
}

func (g *Gateway) handlePay(ctx context.Context, logger *zap.Logger, msg Message) {
	account, err := g.ledger.AccountSummary(ctx, msg.AuthorId)
	if err != nil {
		logger.Error("Failed to load account", zap.Error(err))
		g.payFailure(ctx, logger, msg)
		return
	}
	if !account.Balance.IsPositive() {
		g.reply(ctx, logger, msg, replyNoBalance)
		return
	}

	notice, err := g.paymentNotice(ctx, msg.AuthorId, account.Balance, account.Threshold, false)
	if err != nil {
		logger.Error("Failed to generate payment link", zap.Error(err))
		g.payFailure(ctx, logger, msg)
		return
	}
	g.reply(ctx, logger, msg, notice)
}

func (g *Gateway) payFailure(ctx context.Context, logger *zap.Logger, msg Message) {
	id, err := g.messenger.Send(ctx, msg.ChannelId, mention(msg.AuthorId)+" "+replyLinkFailed)
	if err != nil {
		logger.Error("Failed to report payment failure", zap.Error(err))
		return
	}
	g.deleteLater(msg.ChannelId, id, g.delays.payFailure)
}

// NotifyPayment tells the user a payment was applied
func (g *Gateway) NotifyPayment(ctx context.Context, result *models.PaymentResult) {
	if result == nil || result.UserId == "" {
		return
	}

	status := "⚠️ Still locked"
	if result.Unlocked {
		status = "✅ Unlocked"
	}
	content := fmt.Sprintf("✅ **Payment Received**\nThank you! Your payment of **%s** has been processed.\nNew Balance: %s | Status: %s",
		common.FormatUSD(result.Amount), common.FormatUSD(result.NewBalance), status)

	if err := g.messenger.SendDM(ctx, result.UserId, content); err != nil {
		zap.L().Error("Failed to notify user of payment",
			zap.String("user_id", result.UserId),
			zap.String("payment_id", result.PaymentId),
			zap.Error(err))
		return
	}
	zap.L().Info("Payment notification sent", zap.String("user_id", result.UserId))
}
