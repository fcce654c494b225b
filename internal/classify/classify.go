package classify

import (
	"discussync/internal/model"
)

// Channel maps a channel's name and raw type tag to a category.
// WhatsApp channels carry the counterparty phone number as their name, so
// an all-digit name wins over the raw tag. Pure and total.
func Channel(name, channelType string) model.Category {
	if isAllDigits(name) {
		return model.CategoryWhatsApp
	}
	switch channelType {
	case "livechat":
		return model.CategoryLiveChat
	case "chat":
		return model.CategoryDirectMessage
	case "channel":
		return model.CategoryTeamChannel
	}
	return model.CategoryUnknown
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
