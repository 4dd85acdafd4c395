// Package flash carries one-shot messages across a redirect in a cookie.
package flash

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const cookieName = "ncats_flash"

// Categories used by the templates.
const (
	Info    = "info"
	Success = "success"
	Danger  = "danger"
)

type Message struct {
	Category string `json:"c"`
	Text     string `json:"t"`
}

// Add queues a message for the next page the client renders. Messages
// already queued on this request are kept.
func Add(w http.ResponseWriter, r *http.Request, category, text string) {
	msgs := read(r)
	msgs = append(msgs, Message{Category: category, Text: text})
	write(w, r, msgs)
	// Later Adds in the same request must see this one.
	r.AddCookie(&http.Cookie{Name: cookieName, Value: encode(msgs)})
}

// Pop returns the queued messages and clears them.
func Pop(w http.ResponseWriter, r *http.Request) []Message {
	msgs := read(r)
	if len(msgs) == 0 {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return msgs
}

func read(r *http.Request) []Message {
	var cookie *http.Cookie
	// The last cookie wins so Add can stack on its own request.
	for _, c := range r.Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

func encode(msgs []Message) string {
	raw, _ := json.Marshal(msgs)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func write(w http.ResponseWriter, r *http.Request, msgs []Message) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encode(msgs),
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}
