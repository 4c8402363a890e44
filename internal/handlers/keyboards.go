package handlers

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vesta-tgbot-go/internal/models"
)

const (
	callbackSession  = "session"
	callbackPerm     = "perm"
	verdictApprove   = "approve"
	verdictDecline   = "decline"
	sessionsPerRow   = 2
	sessionsListSize = 20
)

// sessionsKeyboard lists sessions two per row; callback data carries only the id
// because Telegram caps it at 64 bytes
func sessionsKeyboard(sessions []models.ChatSession) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, s := range sessions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.Title, fmt.Sprintf("%s:%d", callbackSession, s.ID)))
		if len(row) == sessionsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func approvalKeyboard(telegramID int64, approveText, declineText string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(approveText, fmt.Sprintf("%s:%s:%d", callbackPerm, verdictApprove, telegramID)),
			tgbotapi.NewInlineKeyboardButtonData(declineText, fmt.Sprintf("%s:%s:%d", callbackPerm, verdictDecline, telegramID)),
		),
	)
}

func parseSessionCallback(data string) (uint64, bool) {
	rest, ok := strings.CutPrefix(data, callbackSession+":")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil
}

func parsePermCallback(data string) (verdict string, telegramID int64, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPerm {
		return "", 0, false
	}
	if parts[1] != verdictApprove && parts[1] != verdictDecline {
		return "", 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[1], id, true
}
