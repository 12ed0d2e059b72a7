package telegram

import (
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func SendTextToTelegramChat(text string) {
	if !viper.GetBool("telegram.enabled") {
		return
	}
	var telegramApiUrl = "https://api.telegram.org/bot" + os.Getenv("TELEGRAM_BOT_API_KEY") + "/sendMessage"
	var chatId = os.Getenv("TELEGRAM_BOT_CHAT_ID")

	response, err := http.PostForm(
		telegramApiUrl,
		url.Values{
			"chat_id":    {chatId},
			"text":       {text},
			"parse_mode": {"HTML"},
		})

	if err != nil {
		zap.S().Errorf("error when posting text to the chat: %s", err.Error())
		return
	}
	defer response.Body.Close()

	if _, err := io.ReadAll(response.Body); err != nil {
		zap.S().Errorf("error in parsing telegram answer %s", err.Error())
	}
}
