// Package dialog implements the conversational state machine behind the
// bot: a data-driven flow table walks an authenticated user through
// disambiguating choices (group, host, service) and runs a terminal
// action against the monitoring source.
package dialog

import "github.com/deexno/checkmk-telegram-plus/internal/telegram"

// Home menu labels. These exact strings are the entry triggers of the
// flow table.
const (
	MenuHostStatus           = "⭕ GET HOST STATUS"
	MenuServicesOfHost       = "📃 GET SERVICES OF HOST"
	MenuServiceDetails       = "🔍 GET SERVICE DETAILS"
	MenuHostProblems         = "🔥 GET ALL HOST PROBLEMS"
	MenuServiceProblems      = "❗ GET ALL SERVICE PROBLEMS"
	MenuNotificationSettings = "🔔 NOTIFICATION SETTINGS"
	MenuServiceGraphs        = "📉 GET SERVICE GRAPHS"
)

// MsgProcessingError is the one generic failure message shown to users;
// internal errors are logged, never echoed to the chat.
const MsgProcessingError = "I'm sorry but while I was processing your request an error occurred!"

const (
	msgGraphsError = MsgProcessingError + " (Maybe this service has no Graphs)"

	msgNotAuthenticated = "You are not authenticated! 🔐 When using the bot for the first " +
		"time, you must authenticate yourself with a password. If you do " +
		"not do this, the bot 🤖 will not respond to any of your further requests."
	msgPasswordPrompt       = "What is the password?!"
	msgAlreadyAuthenticated = "You are already authenticated. ✅ The process has been cancelled."
	msgAuthenticated        = "Success! ✅ You can now communicate with me! I have added a menu " +
		"to your keyboard, which you can use to interact with me. If you " +
		"don't see it, type /menu. If you need help just try /help"
	msgWrongPassword = "WRONG PASSWORD! 🛑 YOUR FAILED LOGIN ATTEMPT WILL BE LOGGED 📃 " +
		"AND COMMUNICATED TO THE OTHER USERS!"

	msgCancelled     = "Conversation cancelled ❌"
	msgInvalidChoice = "PLEASE PICK AN OPTION FROM THE MENU ⌨️"
	msgFallback      = "I don't understand that. Use the menu ⌨️ or type /help."
	msgDone          = "✅ DONE"

	msgHelp = "Use the menu on your keyboard ⌨️ to query host and service " +
		"states, list problems, fetch service graphs and manage your " +
		"notification subscriptions. Commands: /menu shows the menu again, " +
		"/cancel aborts an active conversation, /authenticate verifies you " +
		"to the bot."
)

// HomeMenu returns the persistent main menu keyboard.
func HomeMenu() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: MenuHostStatus}, {Text: MenuServicesOfHost}},
			{{Text: MenuServiceDetails}, {Text: MenuHostProblems}},
			{{Text: MenuServiceProblems}, {Text: MenuNotificationSettings}},
			{{Text: MenuServiceGraphs}},
		},
		OneTimeKeyboard:       true,
		InputFieldPlaceholder: "Choose an option",
	}
}
