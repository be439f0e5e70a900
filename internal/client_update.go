package internal

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

type (
	authOKMsg        struct{ resp *authResponse }
	authErrMsg       struct{ err error }
	connectedMsg     struct{}
	incomingMsg      displayMessage
	readReceiptMsg   ReadReceipt
	statusMsg        map[string]string
	skipFrameMsg     struct{}
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	uploadDoneMsg    struct{ fileURL string }
	uploadFailedMsg  struct{ err error }
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C bails out from any mode.
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConn()
			return model, tea.Quit
		}
		return model.updateKey(typedMessage)

	case authOKMsg:
		model.loading = false
		model.token = typedMessage.resp.Token
		model.username = typedMessage.resp.Username
		model.mode = modeChat
		focusCmd := model.promptFor("", "Type a message…", false)
		model.appendSystem("Logged in as " + model.username + ". Connecting…")
		return model, tea.Batch(focusCmd, model.connectCmd())

	case authErrMsg:
		model.loading = false
		model.appendSystem("Error: " + typedMessage.err.Error())
		model.mode = modeAuthMenu
		model.textInput.Blur()
		return model, nil

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		return model, model.readOnceCmd()

	case incomingMsg:
		incoming := displayMessage(typedMessage)
		incoming.Mine = !incoming.System && incoming.Nickname == model.username
		model.messages = append(model.messages, incoming)
		commands := []tea.Cmd{model.readOnceCmd()}
		// Acknowledge other users' messages so they get a read receipt.
		if !incoming.System && !incoming.Mine && incoming.MsgID != "" {
			commands = append(commands, model.sendReadCmd(incoming.MsgID))
		}
		return model, tea.Batch(commands...)

	case readReceiptMsg:
		if typedMessage.MsgID != "" && typedMessage.User != model.username {
			readers := model.readBy[typedMessage.MsgID]
			if readers == nil {
				readers = make(map[string]bool)
				model.readBy[typedMessage.MsgID] = readers
			}
			readers[typedMessage.User] = true
		}
		return model, model.readOnceCmd()

	case statusMsg:
		model.statuses = typedMessage
		return model, model.readOnceCmd()

	case skipFrameMsg:
		return model, model.readOnceCmd()

	case connectFailedMsg:
		model.isConnected = false
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		model.connectionError = typedMessage.err
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case uploadDoneMsg:
		return model, model.sendChatCmd(typedMessage.fileURL)

	case uploadFailedMsg:
		model.appendSystem("Upload failed: " + typedMessage.err.Error())
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.pendingAction = actionLogin
			model.mode = modeAuthUsername
			cmd := model.promptFor("username", "", false)
			model.textInput.SetValue(model.username)
			return model, cmd
		case "2", "r", "R":
			model.pendingAction = actionRegister
			model.mode = modeRegister
			model.registerValues = make([]string, 0, len(registerFieldPrompts))
			model.registerIdx = 0
			return model, model.promptFor(registerFieldPrompts[0], "", false)
		case "q", "Q", "esc":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthUsername:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.username = trimmed
			model.mode = modeAuthPassword
			return model, model.promptFor("password", "", true)
		case tea.KeyEsc:
			return model.backToMenu()
		}
		return model.passKeyToInput(key)

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEnter:
			model.password = model.textInput.Value()
			if model.password == "" {
				return model, nil
			}
			model.loading = true
			return model, model.loginCmd(model.username, model.password)
		case tea.KeyEsc:
			return model.backToMenu()
		}
		return model.passKeyToInput(key)

	case modeRegister:
		switch key.Type {
		case tea.KeyEnter:
			value := strings.TrimSpace(model.textInput.Value())
			if value == "" {
				return model, nil
			}
			model.registerValues = append(model.registerValues, value)
			model.registerIdx++
			if model.registerIdx < len(registerFieldPrompts) {
				masked := registerFieldPrompts[model.registerIdx] == "password"
				return model, model.promptFor(registerFieldPrompts[model.registerIdx], "", masked)
			}
			model.loading = true
			return model, model.registerCmd(model.registerValues)
		case tea.KeyEsc:
			return model.backToMenu()
		}
		return model.passKeyToInput(key)

	case modeChat:
		if key.Type == tea.KeyEnter {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			if strings.HasPrefix(trimmed, "/") {
				return model.handleCommand(trimmed)
			}
			if model.isConnected {
				return model, model.sendChatCmd(trimmed)
			}
			model.appendSystem("Not connected yet; message dropped.")
			return model, nil
		}
		return model.passKeyToInput(key)
	}
	return model, nil
}

func (model *TUIModel) handleCommand(command string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(command)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		model.closeConn()
		return model, tea.Quit
	case "/upload":
		if len(fields) < 2 {
			model.appendSystem("Usage: /upload <path>")
			return model, nil
		}
		model.appendSystem("Uploading " + fields[1] + "…")
		return model, model.uploadCmd(fields[1])
	default:
		model.appendSystem("Unknown command: " + fields[0])
		return model, nil
	}
}

func (model *TUIModel) backToMenu() (tea.Model, tea.Cmd) {
	model.mode = modeAuthMenu
	model.pendingAction = actionNone
	model.textInput.SetValue("")
	model.textInput.Blur()
	return model, nil
}

func (model *TUIModel) passKeyToInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}
