package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/session"
)

func printAuthURL(authURL string) {
	fmt.Printf("Open this URL to sign in:\n  %s\n", text.FgHiBlue.Sprint(authURL))
}

func statusText(status session.Status) string {
	switch status {
	case session.StatusAuthenticated:
		return text.FgGreen.Sprint("Authenticated")
	case session.StatusAuthenticating, session.StatusDeauthenticating:
		return text.FgYellow.Sprint(string(status))
	case session.StatusExpired:
		return text.FgRed.Sprint("Expired")
	default:
		return text.FgHiBlack.Sprint("Logged out")
	}
}

func printState(s session.State) {
	line := fmt.Sprintf("%s Session: %s", time.Now().Format(time.TimeOnly), statusText(s.Status))
	if s.UserID != "" {
		line += fmt.Sprintf("  user=%s", s.UserID)
	}
	if s.External {
		line += "  " + text.FgHiCyan.Sprint("(identity provider)")
	}
	if s.Error != "" {
		line += "  " + text.FgRed.Sprint(s.Error)
	}
	fmt.Println(line)
}

func printEvent(e events.Event) {
	detail := ""
	if e.Payload != nil {
		if data, err := json.Marshal(e.Payload); err == nil && string(data) != "{}" {
			detail = string(data)
		}
	}
	fmt.Printf("%s Event:   %s %s\n", time.Now().Format(time.TimeOnly), text.FgHiCyan.Sprint(string(e.Type)), detail)
}

func formatRemaining(d time.Duration, expired bool) string {
	if expired || d <= 0 {
		return text.FgRed.Sprint("expired")
	}
	return d.Truncate(time.Second).String()
}

func printSnapshot(state session.State, snap credentials.Snapshot, expiringSoon bool) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})
	t.AppendRow(table.Row{"Status", statusText(state.Status)})
	if !snap.Present {
		t.AppendRow(table.Row{"Credentials", text.FgYellow.Sprint("none in this process")})
		t.Render()
		return
	}
	access := formatRemaining(snap.AccessRemaining, snap.AccessExpired)
	if expiringSoon && !snap.AccessExpired {
		access = text.FgYellow.Sprint(access + " (expiring soon)")
	}
	t.AppendRows([]table.Row{
		{"User", snap.UserID},
		{"Session", snap.SessionID},
		{"Access token", snap.AccessToken},
		{"Access expires", access},
		{"Refresh token", snap.RefreshToken},
		{"Refresh expires", snap.RefreshExpiresAt.Local().Format(time.RFC1123)},
	})
	t.Render()
}
