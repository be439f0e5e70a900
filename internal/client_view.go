package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	receiptStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	onlineDotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderPromptView("Log in", "Press Esc to go back.")
	case modeRegister:
		return model.renderPromptView("Create an account", fmt.Sprintf("Step %d of %d. Press Esc to go back.", model.registerIdx+1, len(registerFieldPrompts)))
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("Wavechat")
	subtitle := subtitleStyle.Render("One room, everyone in it")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderSystemNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey, label string) string {
	return menuItemStyle.Render(menuHotkeyStyle.Render(hotkey) + ") " + label)
}

func (model *TUIModel) renderPromptView(title, hint string) string {
	sections := []string{
		appTitleStyle.Render(title),
		inputBoxStyle.Render(model.textInput.View()),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderSystemNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, menuHintStyle.Render(hint))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderSystemNotices shows the last few system lines on non-chat screens so
// auth errors stay visible.
func (model *TUIModel) renderSystemNotices() string {
	var lines []string
	for _, msg := range model.messages {
		if msg.System {
			lines = append(lines, systemMessageStyle.Render(msg.Text))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (model *TUIModel) renderChatView() string {
	header := chatHeaderStyle.Render("Wavechat — " + model.username)

	var status string
	if model.isConnected {
		status = connectedStyle.Render("● connected")
	} else {
		status = connectingStyle.Render("○ connecting…")
	}

	chatLog := model.renderMessages()
	sidebar := model.renderPresence()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		messageBoxStyle.Render(chatLog),
		messageBoxStyle.Render(sidebar),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		inputBoxStyle.Render(model.textInput.View()),
		status,
		menuHintStyle.Render("Enter to send  •  /upload <path>  •  /quit"),
	)
}

func (model *TUIModel) renderMessages() string {
	if len(model.messages) == 0 {
		return systemMessageStyle.Render("No messages yet. Say hi!")
	}
	start := 0
	if len(model.messages) > 30 {
		start = len(model.messages) - 30
	}
	var lines []string
	for _, msg := range model.messages[start:] {
		lines = append(lines, model.renderMessage(msg))
	}
	return strings.Join(lines, "\n")
}

func (model *TUIModel) renderMessage(msg displayMessage) string {
	if msg.System {
		return systemMessageStyle.Render(msg.Text)
	}
	stamp := ""
	if msg.Ts > 0 {
		stamp = timestampStyle.Render(time.Unix(msg.Ts, 0).Format("15:04")) + " "
	}
	name := usernameStyle.Copy().Foreground(colorForUser(msg.Nickname)).Render(msg.Nickname)
	line := stamp + name + ": " + msg.Text
	if msg.Mine {
		if readers := model.readBy[msg.MsgID]; len(readers) > 0 {
			line += " " + receiptStyle.Render("✓✓")
		}
	}
	return line
}

func (model *TUIModel) renderPresence() string {
	if len(model.statuses) == 0 {
		return systemMessageStyle.Render("nobody yet")
	}
	usernames := make([]string, 0, len(model.statuses))
	for username := range model.statuses {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	var lines []string
	for _, username := range usernames {
		dot := offlineDotStyle.Render("○")
		if model.statuses[username] == StatusOnline {
			dot = onlineDotStyle.Render("●")
		}
		lines = append(lines, dot+" "+username)
	}
	return strings.Join(lines, "\n")
}

func colorForUser(username string) lipgloss.Color {
	if username == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range username {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
