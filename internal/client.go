package internal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RunClient starts the Bubble Tea program against the given server base URL.
func RunClient(serverURL, username string) error {
	model := NewTUIModel(strings.TrimRight(serverURL, "/"), username)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	if err != nil {
		return err
	}
	if model.connectionError != nil {
		return model.connectionError
	}
	return nil
}

// websocketURL turns the HTTP base URL into the websocket endpoint with the
// auth token attached.
func (model *TUIModel) websocketURL() (string, error) {
	parsed, err := url.Parse(model.serverURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/chat"
	query := parsed.Query()
	query.Set("token", model.token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (model *TUIModel) loginCmd(username, password string) tea.Cmd {
	return func() tea.Msg {
		resp, err := apiLogin(model.serverURL, username, password)
		if err != nil {
			return authErrMsg{err}
		}
		return authOKMsg{resp}
	}
}

func (model *TUIModel) registerCmd(values []string) tea.Cmd {
	return func() tea.Msg {
		resp, err := apiRegister(model.serverURL, registerPayload{
			Username:  values[0],
			Password:  values[1],
			FirstName: values[2],
			LastName:  values[3],
			BirthDate: values[4],
			Phone:     values[5],
			Email:     values[6],
		})
		if err != nil {
			return authErrMsg{err}
		}
		return authOKMsg{resp}
	}
}

func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		wsURL, err := model.websocketURL()
		if err != nil {
			return connectFailedMsg{err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return connectFailedMsg{err}
		}
		model.websocketConn = conn
		return connectedMsg{}
	}
}

// readOnceCmd reads a single frame and translates it into a tea message. The
// Update loop schedules the next read after handling each one.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return connectFailedMsg{fmt.Errorf("not connected")}
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return connectFailedMsg{err}
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			// unparseable frame from the server; skip it and keep reading
			return skipFrameMsg{}
		}
		switch envelope.Event {
		case EventMessage:
			var body map[string]any
			if err := json.Unmarshal(envelope.Data, &body); err != nil {
				return skipFrameMsg{}
			}
			return incomingMsg(parseDisplayMessage(body))
		case EventMessageRead:
			var receipt ReadReceipt
			if err := json.Unmarshal(envelope.Data, &receipt); err != nil {
				return skipFrameMsg{}
			}
			return readReceiptMsg(receipt)
		case EventUserStatus:
			var statuses map[string]string
			if err := json.Unmarshal(envelope.Data, &statuses); err != nil {
				return skipFrameMsg{}
			}
			return statusMsg(statuses)
		default:
			return skipFrameMsg{}
		}
	}
}

func parseDisplayMessage(body map[string]any) displayMessage {
	msg := displayMessage{}
	if system, ok := body["system"].(bool); ok && system {
		msg.System = true
	}
	if text, ok := body["text"].(string); ok {
		msg.Text = text
	}
	if nickname, ok := body["nickname"].(string); ok {
		msg.Nickname = nickname
	}
	if msgID, ok := body["msgId"].(string); ok {
		msg.MsgID = msgID
	}
	if ts, ok := body["ts"].(float64); ok {
		msg.Ts = int64(ts)
	}
	return msg
}

// sendChatCmd ships a chat message with a fresh message id.
func (model *TUIModel) sendChatCmd(text string) tea.Cmd {
	return func() tea.Msg {
		payload := map[string]any{
			"msgId": uuid.NewString(),
			"text":  text,
			"ts":    time.Now().Unix(),
		}
		if err := model.writeEvent(EventChatMessage, payload); err != nil {
			return connectFailedMsg{err}
		}
		return nil
	}
}

// sendReadCmd acknowledges a received message so the sender sees a receipt.
func (model *TUIModel) sendReadCmd(msgID string) tea.Cmd {
	return func() tea.Msg {
		if err := model.writeEvent(EventMessageRead, msgID); err != nil {
			return connectFailedMsg{err}
		}
		return nil
	}
}

func (model *TUIModel) uploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		fileURL, err := apiUpload(model.serverURL, model.token, path)
		if err != nil {
			return uploadFailedMsg{err}
		}
		return uploadDoneMsg{fileURL}
	}
}

func (model *TUIModel) writeEvent(event string, data any) error {
	frame := encodeEvent(event, data)
	if frame == nil {
		return fmt.Errorf("encode %s event", event)
	}
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn == nil {
		return fmt.Errorf("not connected")
	}
	return model.websocketConn.WriteMessage(websocket.TextMessage, frame)
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) closeConn() {
	if model.websocketConn != nil {
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = model.websocketConn.Close()
		model.websocketConn = nil
	}
}
