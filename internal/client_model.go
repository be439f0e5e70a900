package internal

import (
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	serverURL       string
	username        string
	password        string
	token           string
	registerValues  []string
	registerIdx     int
	messages        []displayMessage
	statuses        map[string]string
	readBy          map[string]map[string]bool
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	loading         bool
	mode            appMode
	pendingAction   actionType
}

// displayMessage is one rendered line in the chat log.
type displayMessage struct {
	Nickname string
	Text     string
	System   bool
	Mine     bool
	MsgID    string
	Ts       int64
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRegister
	modeChat
)

type actionType int

const (
	actionNone actionType = iota
	actionLogin
	actionRegister
)

// registerFieldPrompts are asked one after another during signup, in the same
// order the register endpoint requires them.
var registerFieldPrompts = []string{
	"username", "password", "first name", "last name",
	"birth date (YYYY-MM-DD)", "phone", "email",
}

func NewTUIModel(serverURL, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Blur()

	if username == "" {
		username = defaultUsername()
	}

	return &TUIModel{
		textInput: input,
		serverURL: serverURL,
		username:  username,
		statuses:  make(map[string]string),
		readBy:    make(map[string]map[string]bool),
		messages:  make([]displayMessage, 0, 64),
		mode:      modeAuthMenu,
	}
}

func defaultUsername() string {
	if user := os.Getenv("WAVECHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

func (model *TUIModel) Init() tea.Cmd {
	return nil
}

// promptFor switches the text input into a labelled prompt.
func (model *TUIModel) promptFor(prompt, placeholder string, masked bool) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt + "> "
	model.textInput.Placeholder = placeholder
	if masked {
		model.textInput.EchoMode = textinput.EchoPassword
	} else {
		model.textInput.EchoMode = textinput.EchoNormal
	}
	return model.textInput.Focus()
}

func (model *TUIModel) appendSystem(text string) {
	model.messages = append(model.messages, displayMessage{System: true, Text: text})
}
